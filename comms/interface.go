package comms

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Interface is the capability contract every transport implements: connect,
// disconnect, publish, and a background read loop feeding an exclusively
// owned per-topic sample buffer.
type Interface interface {
	// Kind identifies the transport class ("serial", "nats"). Together with
	// Name it forms the Communicator registry key <kind>_<name>.
	Kind() string
	// Name is the instance nickname.
	Name() string
	// Connect opens the transport and starts the read loop.
	Connect(ctx context.Context) error
	// Disconnect stops the read loop, joins it, and closes the transport.
	Disconnect() error
	// Connected reports whether the transport is currently open.
	Connected() bool
	// Publish sends a payload to the transport for the given topic.
	Publish(topic string, payload any) error

	// buffer exposes the interface's sample buffer to the Communicator.
	buffer() *sampleBuffer
}

// sampleBuffer is the per-interface topic buffer. The owning read loop is
// the single writer; the Communicator reads and trims it. Both paths go
// through mu, which closes the trim/append race at the buffer level.
type sampleBuffer struct {
	mu   sync.Mutex
	data map[string][]Sample
}

func newSampleBuffer(topics []string) *sampleBuffer {
	data := make(map[string][]Sample, len(topics))
	for _, t := range topics {
		data[t] = nil
	}
	return &sampleBuffer{data: data}
}

// append records a value under topic with the current wall-clock time,
// creating the topic entry if absent.
func (b *sampleBuffer) append(topic string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[topic] = append(b.data[topic], Sample{Timestamp: time.Now(), Value: value})
}

// collect trims any topic holding more than maxValues samples by dropping
// the oldest trimFraction of them, then appends copies of every topic's
// samples into dst. Returns the number of samples trimmed.
func (b *sampleBuffer) collect(maxValues int, trimFraction float64, dst RawData) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	trimmed := 0
	for topic, samples := range b.data {
		if maxValues > 0 && len(samples) > maxValues {
			cut := int(float64(len(samples)) * trimFraction)
			if cut > 0 {
				kept := make([]Sample, len(samples)-cut)
				copy(kept, samples[cut:])
				b.data[topic] = kept
				samples = kept
				trimmed += cut
			}
		}
		if len(samples) > 0 {
			dst[topic] = append(dst[topic], samples...)
		} else if _, ok := dst[topic]; !ok {
			dst[topic] = nil
		}
	}
	return trimmed
}

// size returns the sample count for a topic. Test helper.
func (b *sampleBuffer) size(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data[topic])
}

// sortByTimestamp orders a merged topic slice by wall-clock time, so
// cross-interface arrival order never determines record order.
func sortByTimestamp(samples []Sample) {
	sort.SliceStable(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
}
