package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.bug.st/serial"

	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/metric"
	"github.com/Audace-Sailing-Team/mothics/pkg/retry"
)

// serialMetrics holds Prometheus metrics for one serial interface.
type serialMetrics struct {
	framesReceived prometheus.Counter
	bytesReceived  prometheus.Counter
	decodeErrors   prometheus.Counter
	lastActivity   prometheus.Gauge
}

func newSerialMetrics(registry *metric.Registry, name string) *serialMetrics {
	if registry == nil {
		return nil
	}

	m := &serialMetrics{
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mothics",
			Subsystem:   "serial",
			Name:        "frames_received_total",
			Help:        "Total JSON frames decoded from the serial link",
			ConstLabels: prometheus.Labels{"interface": name},
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mothics",
			Subsystem:   "serial",
			Name:        "bytes_received_total",
			Help:        "Total bytes read from the serial link",
			ConstLabels: prometheus.Labels{"interface": name},
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mothics",
			Subsystem:   "serial",
			Name:        "decode_errors_total",
			Help:        "Frames skipped because they could not be parsed",
			ConstLabels: prometheus.Labels{"interface": name},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mothics",
			Subsystem:   "serial",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of the last decoded frame",
			ConstLabels: prometheus.Labels{"interface": name},
		}),
	}

	component := "serial_" + name
	_ = registry.RegisterCounter(component, "frames_received", m.framesReceived)
	_ = registry.RegisterCounter(component, "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounter(component, "decode_errors", m.decodeErrors)
	_ = registry.RegisterGauge(component, "last_activity", m.lastActivity)

	return m
}

// SerialConfig configures one serial-attached microcontroller link.
type SerialConfig struct {
	Name     string   `json:"name"`
	Port     string   `json:"port"`
	BaudRate int      `json:"baud_rate"`
	Topics   []string `json:"topics"`
}

// Validate checks the configuration for errors.
func (c *SerialConfig) Validate() error {
	if c.Port == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SerialConfig", "Validate", "port is required")
	}
	if c.BaudRate < 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "SerialConfig", "Validate", "baud rate cannot be negative")
	}
	for _, topic := range c.Topics {
		if _, _, _, err := SplitTopic(topic); err != nil {
			return errors.WrapInvalid(err, "SerialConfig", "Validate", "topic address check")
		}
	}
	return nil
}

// SerialDeps holds runtime dependencies for a serial interface.
type SerialDeps struct {
	Config  SerialConfig
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// SerialInterface reads concatenated JSON frames from a byte-stream device
// and appends each key/value to its topic buffer.
type SerialInterface struct {
	name     string
	portName string
	baudRate int
	topics   []string

	port    serial.Port
	logger  *slog.Logger
	metrics *serialMetrics
	buf     *sampleBuffer

	retryConfig retry.Config

	// Lifecycle
	mu        sync.Mutex
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	connected atomic.Bool
}

var _ Interface = (*SerialInterface)(nil)

// NewSerialInterface creates a serial transport from its dependencies.
func NewSerialInterface(deps SerialDeps) *SerialInterface {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "serial-interface", "name", deps.Config.Name)
	}

	cfg := deps.Config
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}

	return &SerialInterface{
		name:        cfg.Name,
		portName:    cfg.Port,
		baudRate:    cfg.BaudRate,
		topics:      cfg.Topics,
		logger:      logger,
		metrics:     newSerialMetrics(deps.Metrics, cfg.Name),
		buf:         newSampleBuffer(cfg.Topics),
		retryConfig: retry.DefaultConfig(),
	}
}

// Kind returns "serial".
func (s *SerialInterface) Kind() string { return "serial" }

// Name returns the instance nickname.
func (s *SerialInterface) Name() string { return s.name }

// Connected reports whether the port is open.
func (s *SerialInterface) Connected() bool { return s.connected.Load() }

func (s *SerialInterface) buffer() *sampleBuffer { return s.buf }

// Connect opens the serial port and starts the read loop.
func (s *SerialInterface) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected.Load() {
		return nil
	}

	open := func() error {
		port, err := serial.Open(s.portName, &serial.Mode{BaudRate: s.baudRate})
		if err != nil {
			return err
		}
		if err := port.SetReadTimeout(time.Second); err != nil {
			_ = port.Close()
			return err
		}
		s.port = port
		return nil
	}

	if err := retry.Do(ctx, s.retryConfig, open); err != nil {
		s.logger.Error("failed to open serial port", "port", s.portName, "error", err)
		return errors.WrapTransient(err, "serial", "Connect", "open port")
	}

	s.connected.Store(true)
	s.logger.Info("connected", "port", s.portName, "baud", s.baudRate)

	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})
	s.running.Store(true)
	go s.readLoop()

	return nil
}

// Disconnect stops the read loop, joins it and closes the port.
func (s *SerialInterface) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		s.running.Store(false)
		close(s.shutdown)
		<-s.done
		s.logger.Info("read loop stopped")
	}

	if s.port != nil {
		if err := s.port.Close(); err != nil {
			return errors.WrapTransient(err, "serial", "Disconnect", "close port")
		}
		s.port = nil
	}
	s.connected.Store(false)
	return nil
}

// Publish writes a {"topic": ..., "payload": ...} JSON object to the port.
func (s *SerialInterface) Publish(topic string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil || !s.connected.Load() {
		return errors.WrapTransient(errors.ErrNotConnected, "serial", "Publish", "port check")
	}

	message, err := json.Marshal(map[string]any{"topic": topic, "payload": payload})
	if err != nil {
		return errors.WrapInvalid(err, "serial", "Publish", "payload encoding")
	}
	if _, err := s.port.Write(message); err != nil {
		return errors.WrapTransient(err, "serial", "Publish", "port write")
	}
	s.logger.Debug("published to serial", "topic", topic)
	return nil
}

// readLoop continually reads the port, splits concatenated JSON frames and
// feeds them into the buffer. Malformed frames are logged and skipped.
func (s *SerialInterface) readLoop() {
	defer close(s.done)

	chunk := make([]byte, 4096)
	var pending []byte

	for s.running.Load() {
		select {
		case <-s.shutdown:
			return
		default:
		}

		n, err := s.port.Read(chunk)
		if err != nil {
			if !s.running.Load() {
				return
			}
			s.logger.Warn("serial read error", "error", err)
			continue
		}
		if n == 0 {
			// Read timeout, poll shutdown again.
			continue
		}

		if s.metrics != nil {
			s.metrics.bytesReceived.Add(float64(n))
		}

		pending = append(pending, chunk[:n]...)

		// Objects may arrive jammed together; wait for the trailing brace
		// before splitting so a frame cut mid-read is not thrown away.
		trimmed := strings.TrimSpace(string(pending))
		if trimmed == "" || !strings.HasSuffix(trimmed, "}") {
			continue
		}
		pending = nil

		for _, frame := range splitFrames(trimmed) {
			s.handleFrame(frame)
		}
	}
}

// handleFrame parses one JSON object and appends every key/value pair.
func (s *SerialInterface) handleFrame(frame string) {
	var message map[string]any
	if err := json.Unmarshal([]byte(frame), &message); err != nil {
		if s.metrics != nil {
			s.metrics.decodeErrors.Inc()
		}
		s.logger.Warn("error processing incoming data",
			"error", errors.WrapInvalid(err, "serial", "readLoop", "parse frame"), "raw", frame)
		return
	}

	for topic, value := range message {
		s.buf.append(topic, value)
	}

	if s.metrics != nil {
		s.metrics.framesReceived.Inc()
		s.metrics.lastActivity.Set(float64(time.Now().Unix()))
	}
}

// splitFrames splits one or more concatenated JSON objects ("{..}{..}")
// and repairs the braces lost at the split boundaries.
func splitFrames(data string) []string {
	parts := strings.Split(data, "}{")
	frames := make([]string, 0, len(parts))
	for _, part := range parts {
		if !strings.HasPrefix(part, "{") {
			part = "{" + part
		}
		if !strings.HasSuffix(part, "}") {
			part = part + "}"
		}
		frames = append(frames, part)
	}
	return frames
}

// String implements fmt.Stringer for log output.
func (s *SerialInterface) String() string {
	return fmt.Sprintf("serial_%s(%s@%d)", s.name, s.portName, s.baudRate)
}
