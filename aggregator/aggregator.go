// Package aggregator runs the periodic sampling loop: it polls the fused
// telemetry view, flattens it into one snapshot per cycle and appends the
// snapshot to a Track.
package aggregator

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Audace-Sailing-Team/mothics/comms"
	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/metric"
	"github.com/Audace-Sailing-Team/mothics/track"
)

// Source returns the current fused view. In live mode this is the
// Communicator's RawData; in replay mode a getter over a loaded Track.
type Source func() comms.RawData

// Config holds the aggregator options.
type Config struct {
	Interval time.Duration `json:"interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{Interval: time.Second}
}

// aggregatorMetrics holds Prometheus metrics for the sampling loop.
type aggregatorMetrics struct {
	cyclesRun      prometheus.Counter
	cycleErrors    prometheus.Counter
	pointsAppended prometheus.Counter
}

func newAggregatorMetrics(registry *metric.Registry) *aggregatorMetrics {
	if registry == nil {
		return nil
	}

	m := &aggregatorMetrics{
		cyclesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mothics",
			Subsystem: "aggregator",
			Name:      "cycles_total",
			Help:      "Aggregation cycles run",
		}),
		cycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mothics",
			Subsystem: "aggregator",
			Name:      "cycle_errors_total",
			Help:      "Aggregation cycles that failed",
		}),
		pointsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mothics",
			Subsystem: "aggregator",
			Name:      "points_appended_total",
			Help:      "Snapshots appended to the track",
		}),
	}

	_ = registry.RegisterCounter("aggregator", "cycles", m.cyclesRun)
	_ = registry.RegisterCounter("aggregator", "cycle_errors", m.cycleErrors)
	_ = registry.RegisterCounter("aggregator", "points_appended", m.pointsAppended)

	return m
}

// Deps holds runtime dependencies for an Aggregator.
type Deps struct {
	Config  Config
	Source  Source
	Track   *track.Track
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Aggregator samples a Source into a Track on a fixed cadence.
type Aggregator struct {
	source Source
	track  *track.Track

	mu       sync.Mutex
	interval time.Duration

	// cycleMu serializes aggregation cycles so a manual Aggregate call
	// cannot interleave with the loop's.
	cycleMu sync.Mutex

	running  atomic.Bool
	shutdown chan struct{}
	done     chan struct{}

	logger  *slog.Logger
	metrics *aggregatorMetrics
}

// New creates an Aggregator. A missing source or track is a construction
// bug, not a runtime condition.
func New(deps Deps) (*Aggregator, error) {
	if deps.Source == nil {
		return nil, errors.WrapFatal(errors.ErrNoDataSource, "aggregator", "New", "source check")
	}
	if deps.Track == nil {
		return nil, errors.WrapFatal(errors.ErrNoDataSource, "aggregator", "New", "track check")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "aggregator")
	}

	interval := deps.Config.Interval
	if interval <= 0 {
		interval = time.Second
	}

	return &Aggregator{
		source:   deps.Source,
		track:    deps.Track,
		interval: interval,
		logger:   logger,
		metrics:  newAggregatorMetrics(deps.Metrics),
	}, nil
}

// Interval returns the current sampling period.
func (a *Aggregator) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.interval
}

// SetInterval updates the sampling period, effective on the next sleep.
func (a *Aggregator) SetInterval(interval time.Duration) {
	if interval <= 0 {
		a.logger.Warn("ignoring non-positive interval", "interval", interval)
		return
	}
	a.mu.Lock()
	a.interval = interval
	a.mu.Unlock()
	a.logger.Info("sampling interval updated", "interval", interval)
}

// Running reports whether the sampling loop is active.
func (a *Aggregator) Running() bool { return a.running.Load() }

// Start spawns the sampling loop. Calling Start on a running aggregator
// is a no-op.
func (a *Aggregator) Start() {
	if !a.running.CompareAndSwap(false, true) {
		return
	}

	a.shutdown = make(chan struct{})
	a.done = make(chan struct{})
	go a.loop()
	a.logger.Info("sampling loop started", "interval", a.Interval())
}

func (a *Aggregator) loop() {
	defer close(a.done)

	for {
		if err := a.Aggregate(); err != nil {
			// A single bad cycle must not kill collection.
			a.logger.Error("aggregation cycle failed", "error", err)
			if a.metrics != nil {
				a.metrics.cycleErrors.Inc()
			}
		}

		select {
		case <-a.shutdown:
			return
		case <-time.After(a.Interval()):
		}
	}
}

// Stop signals the loop and joins it before returning.
func (a *Aggregator) Stop() {
	if !a.running.CompareAndSwap(true, false) {
		return
	}
	close(a.shutdown)
	<-a.done
	a.logger.Info("sampling loop stopped")
}

// Aggregate runs one sampling cycle: fetch, flatten, append. A panicking
// source is contained and reported as a cycle error.
func (a *Aggregator) Aggregate() (err error) {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = errors.WrapTransient(fmt.Errorf("source panicked: %v", r),
				"aggregator", "Aggregate", "data fetch")
		}
	}()

	if a.metrics != nil {
		a.metrics.cyclesRun.Inc()
	}

	flat := Flatten(a.source())
	if err := a.track.AddPoint(time.Now(), flat); err != nil {
		return errors.Wrap(err, "aggregator", "Aggregate", "point append")
	}

	if a.metrics != nil {
		a.metrics.pointsAppended.Inc()
	}
	return nil
}

// Flatten reduces the fused view to one scalar per topic: the last
// sample's value, plus a <unit>/last_timestamp entry carrying the last
// sample's timestamp. One timestamp per remote unit is kept; skew between
// sensors of the same unit is invisible at this granularity. Empty topics
// yield nil for both entries.
func Flatten(data comms.RawData) map[string]any {
	topics := make([]string, 0, len(data))
	for topic := range data {
		topics = append(topics, topic)
	}
	sort.Strings(topics)

	flat := make(map[string]any, 2*len(topics))
	for _, topic := range topics {
		samples := data[topic]
		tsKey := comms.Unit(topic) + "/last_timestamp"
		if len(samples) == 0 {
			flat[topic] = nil
			flat[tsKey] = nil
			continue
		}
		last := samples[len(samples)-1]
		flat[topic] = last.Value
		flat[tsKey] = last.Timestamp
	}
	return flat
}
