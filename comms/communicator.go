package comms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/metric"
)

// Processor is one stage of the calibration pipeline applied to the fused
// view. The Communicator rebuilds the view from the raw interface buffers
// on every read, so implementations must derive their output from the raw
// values they are handed each call, never from a previous call having
// mutated the view.
type Processor interface {
	Name() string
	Apply(data RawData) RawData
}

// communicatorMetrics holds Prometheus metrics for the Communicator.
type communicatorMetrics struct {
	samplesTrimmed prometheus.Counter
	mergeDuration  prometheus.Histogram
	publishErrors  prometheus.Counter
}

func newCommunicatorMetrics(registry *metric.Registry) *communicatorMetrics {
	if registry == nil {
		return nil
	}

	m := &communicatorMetrics{
		samplesTrimmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mothics",
			Subsystem: "communicator",
			Name:      "samples_trimmed_total",
			Help:      "Samples evicted from interface buffers by the bounded-memory trim",
		}),
		mergeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mothics",
			Subsystem: "communicator",
			Name:      "merge_duration_seconds",
			Help:      "Time to produce one fused view",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mothics",
			Subsystem: "communicator",
			Name:      "publish_errors_total",
			Help:      "Per-interface publish failures (caught, never propagated)",
		}),
	}

	_ = registry.RegisterCounter("communicator", "samples_trimmed", m.samplesTrimmed)
	_ = registry.RegisterHistogram("communicator", "merge_duration", m.mergeDuration)
	_ = registry.RegisterCounter("communicator", "publish_errors", m.publishErrors)

	return m
}

// CommunicatorConfig bounds the memory of the fused pipeline.
type CommunicatorConfig struct {
	// MaxValues is the per-topic sample count that triggers a trim.
	MaxValues int `json:"max_values"`
	// TrimFraction is the fraction of oldest samples deleted per trim.
	TrimFraction float64 `json:"trim_fraction"`
}

// DefaultCommunicatorConfig returns the stock memory bounds.
func DefaultCommunicatorConfig() CommunicatorConfig {
	return CommunicatorConfig{MaxValues: 1000, TrimFraction: 0.5}
}

// Validate checks the configuration for errors.
func (c *CommunicatorConfig) Validate() error {
	if c.MaxValues < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "CommunicatorConfig", "Validate", "max_values cannot be negative")
	}
	if c.TrimFraction < 0 || c.TrimFraction > 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "CommunicatorConfig", "Validate", "trim_fraction must be in [0,1]")
	}
	return nil
}

// CommunicatorDeps holds runtime dependencies for the Communicator.
type CommunicatorDeps struct {
	Config  CommunicatorConfig
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Communicator owns a named collection of transport interfaces and a
// preprocessor chain, and exposes one fused, trimmed, calibrated view of
// all incoming data plus a routed publish operation.
type Communicator struct {
	maxValues    int
	trimFraction float64

	mu            sync.Mutex
	interfaces    map[string]Interface
	order         []string
	preprocessors []Processor

	logger  *slog.Logger
	metrics *communicatorMetrics
}

// NewCommunicator creates a Communicator with no interfaces attached.
func NewCommunicator(deps CommunicatorDeps) *Communicator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "communicator")
	}

	cfg := deps.Config
	if cfg.MaxValues == 0 {
		cfg.MaxValues = 1000
	}
	if cfg.TrimFraction == 0 {
		cfg.TrimFraction = 0.5
	}

	return &Communicator{
		maxValues:    cfg.MaxValues,
		trimFraction: cfg.TrimFraction,
		interfaces:   make(map[string]Interface),
		logger:       logger,
		metrics:      newCommunicatorMetrics(deps.Metrics),
	}
}

// key builds the registry key for an interface instance.
func key(iface Interface) string {
	return fmt.Sprintf("%s_%s", iface.Kind(), iface.Name())
}

// AddInterfaces registers transport instances, keyed <kind>_<name>.
// Duplicate keys are skipped with a warning, not an error.
func (c *Communicator) AddInterfaces(ifaces ...Interface) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, iface := range ifaces {
		k := key(iface)
		if _, exists := c.interfaces[k]; exists {
			c.logger.Warn("interface already exists, skipping", "interface", k)
			continue
		}
		c.interfaces[k] = iface
		c.order = append(c.order, k)
		c.logger.Info("initialized interface", "interface", k)
	}
}

// Interfaces returns the registry keys of all attached interfaces.
func (c *Communicator) Interfaces() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// RegisterPreprocessor appends a processor to the calibration chain.
// Processors run in registration order on every fused read.
func (c *Communicator) RegisterPreprocessor(p Processor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.preprocessors = append(c.preprocessors, p)
	c.logger.Info("registered preprocessor", "name", p.Name())
}

// Connect connects every interface independently. Per-interface failures
// are logged and isolated; an error is returned only when all fail.
func (c *Communicator) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var failed []string
	for _, k := range c.order {
		if err := c.interfaces[k].Connect(ctx); err != nil {
			c.logger.Warn("failed to start interface", "interface", k, "error", err)
			failed = append(failed, k)
			continue
		}
		c.logger.Info("started interface", "interface", k)
	}

	if len(c.order) > 0 && len(failed) == len(c.order) {
		c.logger.Warn("failed to start all interfaces")
		return errors.WrapTransient(errors.ErrAllInterfacesDown, "Communicator", "Connect",
			fmt.Sprintf("connecting %d interfaces", len(c.order)))
	}
	if len(failed) > 0 {
		c.logger.Warn("some interfaces failed to start", "failed", failed)
	}
	return nil
}

// Disconnect disconnects every interface. This path runs during orderly
// shutdown, so the first failure propagates.
func (c *Communicator) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range c.order {
		if err := c.interfaces[k].Disconnect(); err != nil {
			c.logger.Error("error stopping interface", "interface", k, "error", err)
			return errors.Wrap(err, "Communicator", "Disconnect", fmt.Sprintf("stopping %s", k))
		}
		c.logger.Info("stopped interface", "interface", k)
	}
	return nil
}

// Refresh connects any interface whose connected flag is false. With
// forceReconnect it disconnects everything first. Used to recover from
// topology changes without a full restart.
func (c *Communicator) Refresh(ctx context.Context, forceReconnect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if forceReconnect {
		c.logger.Info("force reconnect: stopping all interfaces before refresh")
		for _, k := range c.order {
			if err := c.interfaces[k].Disconnect(); err != nil {
				c.logger.Warn("error stopping interface", "interface", k, "error", err)
			}
		}
	}

	var failed []string
	for _, k := range c.order {
		iface := c.interfaces[k]
		if iface.Connected() {
			continue
		}
		if err := iface.Connect(ctx); err != nil {
			c.logger.Warn("failed to refresh interface", "interface", k, "error", err)
			failed = append(failed, k)
			continue
		}
		c.logger.Info("refreshed and started interface", "interface", k)
	}

	if len(failed) > 0 {
		c.logger.Warn("failed to refresh interfaces", "failed", failed)
	}
}

// RawData merges every interface's buffer into one fused view: buffers over
// MaxValues are trimmed, topics are merged across interfaces, each topic is
// sorted by timestamp and the preprocessor chain runs in registration
// order. This is the hottest path in the system; the Aggregator calls it
// every sampling interval.
func (c *Communicator) RawData() RawData {
	c.mu.Lock()
	defer c.mu.Unlock()

	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.mergeDuration)
	}

	merged := make(RawData)
	trimmed := 0
	for _, k := range c.order {
		trimmed += c.interfaces[k].buffer().collect(c.maxValues, c.trimFraction, merged)
	}

	if trimmed > 0 {
		if c.metrics != nil {
			c.metrics.samplesTrimmed.Add(float64(trimmed))
		}
		c.logger.Debug("trimmed interface buffers", "samples", trimmed)
	}

	for topic := range merged {
		sortByTimestamp(merged[topic])
	}

	for _, p := range c.preprocessors {
		merged = p.Apply(merged)
	}

	if timer != nil {
		timer.ObserveDuration()
	}
	return merged
}

// Publish routes a payload to the named interfaces (default: all).
// Per-interface failures are caught and logged, never propagated, so one
// broken sink cannot block the others.
func (c *Communicator) Publish(topic string, payload any, names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(names) == 0 {
		names = c.order
	}

	for _, k := range names {
		iface, ok := c.interfaces[k]
		if !ok {
			c.logger.Warn("interface not found", "interface", k)
			continue
		}
		if err := iface.Publish(topic, payload); err != nil {
			if c.metrics != nil {
				c.metrics.publishErrors.Inc()
			}
			c.logger.Warn("failed to publish", "interface", k, "topic", topic, "error", err)
		}
	}
}
