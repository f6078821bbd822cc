package preprocess

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/Audace-Sailing-Team/mothics/comms"
)

// AngleOffset calibrates attitude angles by adding a static offset to
// every sample. Offsets are keyed by full topic address or bare quantity
// name; the latest raw reading per topic is remembered so Calibrate can
// zero against it at any time.
type AngleOffset struct {
	name   string
	logger *slog.Logger

	mu        sync.Mutex
	offsets   map[string]float64
	latestRaw map[string]float64
}

var _ comms.Processor = (*AngleOffset)(nil)

// NewAngleOffset creates a calibration processor. A nil offsets map starts
// the three IMU angles of the first remote unit at zero.
func NewAngleOffset(offsets map[string]float64, logger *slog.Logger) *AngleOffset {
	if logger == nil {
		logger = slog.Default().With("component", "preprocess", "processor", "angle-offset")
	}
	if offsets == nil {
		offsets = map[string]float64{
			"rm1/imu/yaw":   0,
			"rm1/imu/pitch": 0,
			"rm1/imu/roll":  0,
		}
	}
	return &AngleOffset{
		name:      "imu_calibration",
		logger:    logger,
		offsets:   offsets,
		latestRaw: make(map[string]float64),
	}
}

// Name returns the processor identifier used in chain registration.
func (a *AngleOffset) Name() string { return a.name }

// SetOffset sets or replaces one offset at runtime.
func (a *AngleOffset) SetOffset(topic string, offset float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.offsets[topic] = offset
	a.logger.Info("offset set", "topic", topic, "offset", offset)
}

// Calibrate makes the most recent raw reading of each selected topic the
// new zero. Arguments may be full topic addresses or bare quantity names;
// bare names expand against every topic seen so far. With no arguments
// every seen topic is zeroed.
func (a *AngleOffset) Calibrate(topics ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var selected []string
	if len(topics) == 0 {
		for topic := range a.latestRaw {
			selected = append(selected, topic)
		}
	} else {
		for _, t := range topics {
			if strings.Contains(t, "/") {
				selected = append(selected, t)
				continue
			}
			for full := range a.latestRaw {
				if comms.Quantity(full) == t {
					selected = append(selected, full)
				}
			}
		}
	}

	zeroed := selected[:0]
	for _, topic := range selected {
		raw, ok := a.latestRaw[topic]
		if !ok {
			continue
		}
		a.offsets[topic] = -raw
		zeroed = append(zeroed, topic)
	}

	if len(zeroed) == 0 {
		a.logger.Warn("calibrate found no matching topics")
		return
	}
	a.logger.Info("zeroed", "topics", strings.Join(zeroed, ", "))
}

// ResetOffsets sets every configured offset back to zero.
func (a *AngleOffset) ResetOffsets() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for topic := range a.offsets {
		a.offsets[topic] = 0
	}
	a.logger.Info("offsets reset")
}

// Offset returns the current offset for a topic, if one is configured.
func (a *AngleOffset) Offset(topic string) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	off, ok := a.offsets[topic]
	return off, ok
}

// Apply adds the configured offset to every numeric sample. The view it
// receives is rebuilt from raw buffered samples on each read, so the whole
// topic history carries the current offset; after a Calibrate the next read
// re-derives everything against the new zero. The raw value of the newest
// sample per topic is remembered so Calibrate always zeroes against the
// latest reading.
func (a *AngleOffset) Apply(data comms.RawData) comms.RawData {
	a.mu.Lock()
	defer a.mu.Unlock()

	for topic, samples := range data {
		offset, ok := a.offsets[topic]
		if !ok {
			offset, ok = a.offsets[comms.Quantity(topic)]
		}
		if !ok {
			continue
		}

		for i := range samples {
			raw, numeric := toFloat(samples[i].Value)
			if !numeric {
				continue
			}
			a.latestRaw[topic] = raw
			samples[i].Value = raw + offset
		}
	}

	return data
}
