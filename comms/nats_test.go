package comms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Audace-Sailing-Team/mothics/errors"
)

func TestTopicSubjectMapping(t *testing.T) {
	assert.Equal(t, "rm1.gps.lat", topicToSubject("rm1/gps/lat"))
	assert.Equal(t, "rm1/gps/lat", subjectToTopic("rm1.gps.lat"))
}

func TestNATSInterface_HandleMessage_TypesPayload(t *testing.T) {
	n := NewNATSInterface(NATSDeps{Config: NATSConfig{
		Name: "test", URL: "nats://localhost:4222", Topics: []string{"rm1/gps/lat"},
	}})

	n.handleMessage("rm1/gps/lat", []byte("45.5"))
	n.handleMessage("rm1/gps/lat", []byte("46"))
	n.handleMessage("rm1/imu/mode", []byte("free_running"))

	merged := make(RawData)
	n.buf.collect(0, 0, merged)

	require.Len(t, merged["rm1/gps/lat"], 2)
	assert.Equal(t, 45.5, merged["rm1/gps/lat"][0].Value)
	assert.Equal(t, 46, merged["rm1/gps/lat"][1].Value)
	// Underscored payloads stay strings.
	require.Len(t, merged["rm1/imu/mode"], 1)
	assert.Equal(t, "free_running", merged["rm1/imu/mode"][0].Value)
}

func TestNATSInterface_PublishUnknownTopic(t *testing.T) {
	n := NewNATSInterface(NATSDeps{Config: NATSConfig{
		Name: "test", URL: "nats://localhost:4222", Topics: []string{"rm1/gps/lat"},
	}})

	err := n.Publish("rm9/unknown/topic", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownTopic)
}

func TestNATSInterface_PublishRequiresConnection(t *testing.T) {
	n := NewNATSInterface(NATSDeps{Config: NATSConfig{
		Name: "test", URL: "nats://localhost:4222", Topics: []string{"rm1/gps/lat"},
	}})

	err := n.Publish("rm1/gps/lat", 45.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestNATSConfig_Validate(t *testing.T) {
	good := NATSConfig{Name: "main", URL: "nats://localhost:4222", Topics: []string{"rm1/gps/lat"}}
	assert.NoError(t, good.Validate())

	noURL := NATSConfig{Name: "main"}
	assert.Error(t, noURL.Validate())

	badTopic := NATSConfig{Name: "main", URL: "nats://localhost:4222", Topics: []string{"oops"}}
	assert.Error(t, badTopic.Validate())
}

func TestNATSInterface_DisconnectWithoutConnectIsNoop(t *testing.T) {
	n := NewNATSInterface(NATSDeps{Config: NATSConfig{Name: "test", URL: "nats://localhost:4222"}})
	assert.NoError(t, n.Disconnect())
	assert.False(t, n.Connected())
}
