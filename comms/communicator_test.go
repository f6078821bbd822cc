package comms

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Audace-Sailing-Team/mothics/errors"
)

// mockInterface is an in-process transport for tests. Samples are injected
// directly into its buffer with chosen timestamps.
type mockInterface struct {
	kind      string
	name      string
	buf       *sampleBuffer
	connected bool

	connectErr    error
	disconnectErr error
	publishErr    error
	published     []string
	connects      int
}

func newMockInterface(kind, name string) *mockInterface {
	return &mockInterface{kind: kind, name: name, buf: newSampleBuffer(nil)}
}

func (m *mockInterface) Kind() string { return m.kind }
func (m *mockInterface) Name() string { return m.name }

func (m *mockInterface) Connect(context.Context) error {
	m.connects++
	if m.connectErr != nil {
		return m.connectErr
	}
	m.connected = true
	return nil
}

func (m *mockInterface) Disconnect() error {
	if m.disconnectErr != nil {
		return m.disconnectErr
	}
	m.connected = false
	return nil
}

func (m *mockInterface) Connected() bool { return m.connected }

func (m *mockInterface) Publish(topic string, _ any) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, topic)
	return nil
}

func (m *mockInterface) buffer() *sampleBuffer { return m.buf }

// inject adds a sample with an explicit timestamp.
func (m *mockInterface) inject(topic string, ts time.Time, value any) {
	m.buf.mu.Lock()
	defer m.buf.mu.Unlock()
	m.buf.data[topic] = append(m.buf.data[topic], Sample{Timestamp: ts, Value: value})
}

func newTestCommunicator(t *testing.T, maxValues int, trim float64) *Communicator {
	t.Helper()
	return NewCommunicator(CommunicatorDeps{
		Config: CommunicatorConfig{MaxValues: maxValues, TrimFraction: trim},
	})
}

func TestCommunicator_AddInterfaces_DuplicatesSkipped(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)

	c.AddInterfaces(newMockInterface("serial", "port1"), newMockInterface("serial", "port1"))
	assert.Equal(t, []string{"serial_port1"}, c.Interfaces())

	c.AddInterfaces(newMockInterface("nats", "main"))
	assert.Equal(t, []string{"serial_port1", "nats_main"}, c.Interfaces())
}

func TestCommunicator_MergeOrdering(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	a := newMockInterface("serial", "a")
	b := newMockInterface("nats", "b")
	c.AddInterfaces(a, b)

	base := time.Now()
	// Interfaces report out of order relative to each other.
	a.inject("rm1/gps/lat", base.Add(2*time.Second), 45.6)
	a.inject("rm1/gps/lat", base.Add(4*time.Second), 45.7)
	b.inject("rm1/gps/lat", base.Add(1*time.Second), 45.5)
	b.inject("rm1/gps/lat", base.Add(3*time.Second), 45.65)

	fused := c.RawData()
	samples := fused["rm1/gps/lat"]
	require.Len(t, samples, 4)
	for i := 1; i < len(samples); i++ {
		assert.False(t, samples[i].Timestamp.Before(samples[i-1].Timestamp),
			"samples must be non-decreasing in timestamp")
	}
	assert.Equal(t, 45.5, samples[0].Value)
	assert.Equal(t, 45.7, samples[3].Value)
}

func TestCommunicator_TrimBound(t *testing.T) {
	const maxValues = 10
	c := newTestCommunicator(t, maxValues, 0.5)
	m := newMockInterface("serial", "a")
	c.AddInterfaces(m)

	base := time.Now()
	for i := 0; i < 25; i++ {
		m.inject("rm2/wind/speed", base.Add(time.Duration(i)*time.Millisecond), i)
	}

	fused := c.RawData()

	// Oldest 50% deleted in one bulk trim: 25 -> 13 in the buffer.
	assert.Equal(t, 13, m.buf.size("rm2/wind/speed"))

	// The fused view reflects the trimmed buffer and keeps the newest data.
	samples := fused["rm2/wind/speed"]
	require.Len(t, samples, 13)
	assert.Equal(t, 24, samples[len(samples)-1].Value)

	// A second read with no new appends stays under the bound.
	c.RawData()
	assert.LessOrEqual(t, m.buf.size("rm2/wind/speed"), maxValues)
}

func TestCommunicator_ConnectPartialFailureIsolated(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	good := newMockInterface("serial", "good")
	bad := newMockInterface("nats", "bad")
	bad.connectErr = fmt.Errorf("broker unreachable")
	c.AddInterfaces(good, bad)

	err := c.Connect(context.Background())
	assert.NoError(t, err)
	assert.True(t, good.Connected())
	assert.False(t, bad.Connected())
}

func TestCommunicator_ConnectAllFail(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	a := newMockInterface("serial", "a")
	b := newMockInterface("nats", "b")
	a.connectErr = fmt.Errorf("no device")
	b.connectErr = fmt.Errorf("no broker")
	c.AddInterfaces(a, b)

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAllInterfacesDown)
}

func TestCommunicator_DisconnectPropagatesFirstFailure(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	a := newMockInterface("serial", "a")
	a.disconnectErr = fmt.Errorf("port stuck")
	c.AddInterfaces(a)

	require.NoError(t, a.Connect(context.Background()))
	assert.Error(t, c.Disconnect())
}

func TestCommunicator_RefreshConnectsOnlyDisconnected(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	up := newMockInterface("serial", "up")
	down := newMockInterface("nats", "down")
	c.AddInterfaces(up, down)

	require.NoError(t, up.Connect(context.Background()))
	upConnects := up.connects

	c.Refresh(context.Background(), false)
	assert.Equal(t, upConnects, up.connects, "connected interface must not be re-dialed")
	assert.True(t, down.Connected())
}

func TestCommunicator_RefreshForceReconnectsAll(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	a := newMockInterface("serial", "a")
	c.AddInterfaces(a)
	require.NoError(t, a.Connect(context.Background()))

	c.Refresh(context.Background(), true)
	assert.Equal(t, 2, a.connects)
	assert.True(t, a.Connected())
}

func TestCommunicator_PublishFailuresNeverPropagate(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	ok := newMockInterface("serial", "ok")
	broken := newMockInterface("nats", "broken")
	broken.publishErr = fmt.Errorf("sink down")
	c.AddInterfaces(ok, broken)

	// Must not panic or error; the healthy sink still receives the message.
	c.Publish("rm1/gps/lat", 45.5)
	assert.Equal(t, []string{"rm1/gps/lat"}, ok.published)

	// Routing to a subset, including an unknown name.
	c.Publish("rm2/wind/speed", 12, "serial_ok", "serial_missing")
	assert.Equal(t, []string{"rm1/gps/lat", "rm2/wind/speed"}, ok.published)
}

type doublingProcessor struct{ applied int }

func (p *doublingProcessor) Name() string { return "doubling" }

func (p *doublingProcessor) Apply(data RawData) RawData {
	p.applied++
	for topic, samples := range data {
		for i, s := range samples {
			if v, ok := s.Value.(int); ok {
				samples[i].Value = v * 2
			}
		}
		data[topic] = samples
	}
	return data
}

func TestCommunicator_PreprocessorChainRunsInOrder(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	m := newMockInterface("serial", "a")
	c.AddInterfaces(m)

	first := &doublingProcessor{}
	second := &doublingProcessor{}
	c.RegisterPreprocessor(first)
	c.RegisterPreprocessor(second)

	m.inject("rm2/wind/speed", time.Now(), 3)
	fused := c.RawData()

	require.Len(t, fused["rm2/wind/speed"], 1)
	assert.Equal(t, 12, fused["rm2/wind/speed"][0].Value)
	assert.Equal(t, 1, first.applied)
	assert.Equal(t, 1, second.applied)
}

func TestCommunicator_RepeatedReadsStayProcessed(t *testing.T) {
	c := newTestCommunicator(t, 100, 0.5)
	m := newMockInterface("serial", "a")
	c.AddInterfaces(m)
	c.RegisterPreprocessor(&doublingProcessor{})

	m.inject("rm2/wind/speed", time.Now(), 3)

	first := c.RawData()
	require.Len(t, first["rm2/wind/speed"], 1)
	assert.Equal(t, 6, first["rm2/wind/speed"][0].Value)

	// Every read rebuilds the view from the raw buffer. A buffered sample
	// that saw no newer arrival must still come back processed, not raw.
	second := c.RawData()
	require.Len(t, second["rm2/wind/speed"], 1)
	assert.Equal(t, 6, second["rm2/wind/speed"][0].Value)

	// The interface buffer itself stays raw throughout.
	raw := make(RawData)
	m.buffer().collect(0, 0, raw)
	assert.Equal(t, 3, raw["rm2/wind/speed"][0].Value)
}
