package comms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Audace-Sailing-Team/mothics/errors"
)

func TestSplitFrames(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{"single object", `{"rm1/gps/lat": 45.5}`, []string{`{"rm1/gps/lat": 45.5}`}},
		{"two jammed objects", `{"a/b/c": 1}{"d/e/f": 2}`, []string{`{"a/b/c": 1}`, `{"d/e/f": 2}`}},
		{"three jammed objects", `{"a/b/c":1}{"d/e/f":2}{"g/h/i":3}`,
			[]string{`{"a/b/c":1}`, `{"d/e/f":2}`, `{"g/h/i":3}`}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, splitFrames(test.in))
		})
	}
}

func TestSerialInterface_HandleFrame(t *testing.T) {
	s := NewSerialInterface(SerialDeps{Config: SerialConfig{
		Name: "test", Port: "/dev/null", Topics: []string{"rm1/gps/lat"},
	}})

	s.handleFrame(`{"rm1/gps/lat": 45.5, "rm1/gps/long": 9.2}`)

	assert.Equal(t, 1, s.buf.size("rm1/gps/lat"))
	assert.Equal(t, 1, s.buf.size("rm1/gps/long")) // topic created on the fly

	merged := make(RawData)
	s.buf.collect(0, 0, merged)
	require.Len(t, merged["rm1/gps/lat"], 1)
	assert.Equal(t, 45.5, merged["rm1/gps/lat"][0].Value)
}

func TestSerialInterface_HandleFrame_MalformedSkipped(t *testing.T) {
	s := NewSerialInterface(SerialDeps{Config: SerialConfig{Name: "test", Port: "/dev/null"}})

	// Must not panic, must not store anything.
	s.handleFrame(`{"rm1/gps/lat": `)
	s.handleFrame(`garbage`)

	merged := make(RawData)
	s.buf.collect(0, 0, merged)
	for topic, samples := range merged {
		assert.Empty(t, samples, "unexpected samples under %s", topic)
	}
}

func TestSerialConfig_Validate(t *testing.T) {
	cfg := SerialConfig{Name: "p1", Port: "/dev/ttyACM0", Topics: []string{"rm2/wind/speed"}}
	assert.NoError(t, cfg.Validate())

	bad := SerialConfig{Name: "p1"}
	assert.Error(t, bad.Validate())

	badTopic := SerialConfig{Name: "p1", Port: "/dev/ttyACM0", Topics: []string{"two/segments"}}
	assert.Error(t, badTopic.Validate())
}

func TestSerialInterface_PublishRequiresConnection(t *testing.T) {
	s := NewSerialInterface(SerialDeps{Config: SerialConfig{Name: "test", Port: "/dev/null"}})

	err := s.Publish("rm1/sudo", map[string]any{"cmd": "reboot"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestSerialInterface_DisconnectWithoutConnectIsNoop(t *testing.T) {
	s := NewSerialInterface(SerialDeps{Config: SerialConfig{Name: "test", Port: "/dev/null"}})
	assert.NoError(t, s.Disconnect())
	assert.False(t, s.Connected())
}
