package comms

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/metric"
	"github.com/Audace-Sailing-Team/mothics/pkg/retry"
)

// natsMetrics holds Prometheus metrics for one broker interface.
type natsMetrics struct {
	messagesReceived prometheus.Counter
	decodeErrors     prometheus.Counter
	reconnects       prometheus.Counter
	lastActivity     prometheus.Gauge
}

func newNATSMetrics(registry *metric.Registry, name string) *natsMetrics {
	if registry == nil {
		return nil
	}

	m := &natsMetrics{
		messagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mothics",
			Subsystem:   "nats",
			Name:        "messages_received_total",
			Help:        "Total messages received from subscribed topics",
			ConstLabels: prometheus.Labels{"interface": name},
		}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mothics",
			Subsystem:   "nats",
			Name:        "decode_errors_total",
			Help:        "Payloads that could not be typed or stored",
			ConstLabels: prometheus.Labels{"interface": name},
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mothics",
			Subsystem:   "nats",
			Name:        "reconnects_total",
			Help:        "Automatic reconnections to the broker",
			ConstLabels: prometheus.Labels{"interface": name},
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mothics",
			Subsystem:   "nats",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of the last received message",
			ConstLabels: prometheus.Labels{"interface": name},
		}),
	}

	component := "nats_" + name
	_ = registry.RegisterCounter(component, "messages_received", m.messagesReceived)
	_ = registry.RegisterCounter(component, "decode_errors", m.decodeErrors)
	_ = registry.RegisterCounter(component, "reconnects", m.reconnects)
	_ = registry.RegisterGauge(component, "last_activity", m.lastActivity)

	return m
}

// NATSConfig configures the pub/sub broker link.
type NATSConfig struct {
	Name          string        `json:"name"`
	URL           string        `json:"url"`
	Topics        []string      `json:"topics"`
	MaxReconnects int           `json:"max_reconnects"` // -1 for infinite
	ReconnectWait time.Duration `json:"reconnect_wait"`
}

// Validate checks the configuration for errors.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "NATSConfig", "Validate", "url is required")
	}
	for _, topic := range c.Topics {
		if _, _, _, err := SplitTopic(topic); err != nil {
			return errors.WrapInvalid(err, "NATSConfig", "Validate", "topic address check")
		}
	}
	return nil
}

// NATSDeps holds runtime dependencies for a broker interface.
type NATSDeps struct {
	Config  NATSConfig
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// NATSInterface subscribes to a configured topic set on a NATS broker and
// types each plain-text scalar payload on arrival. The broker client's own
// dispatcher is the read loop; reconnection is automatic.
type NATSInterface struct {
	name          string
	url           string
	topics        []string
	topicSet      map[string]struct{}
	maxReconnects int
	reconnectWait time.Duration

	conn *nats.Conn
	subs []*nats.Subscription

	logger  *slog.Logger
	metrics *natsMetrics
	buf     *sampleBuffer

	retryConfig retry.Config

	mu        sync.Mutex
	connected atomic.Bool
}

var _ Interface = (*NATSInterface)(nil)

// NewNATSInterface creates a broker transport from its dependencies.
func NewNATSInterface(deps NATSDeps) *NATSInterface {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "nats-interface", "name", deps.Config.Name)
	}

	cfg := deps.Config
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	topicSet := make(map[string]struct{}, len(cfg.Topics))
	for _, t := range cfg.Topics {
		topicSet[t] = struct{}{}
	}

	return &NATSInterface{
		name:          cfg.Name,
		url:           cfg.URL,
		topics:        cfg.Topics,
		topicSet:      topicSet,
		maxReconnects: cfg.MaxReconnects,
		reconnectWait: cfg.ReconnectWait,
		logger:        logger,
		metrics:       newNATSMetrics(deps.Metrics, cfg.Name),
		buf:           newSampleBuffer(cfg.Topics),
		retryConfig:   retry.DefaultConfig(),
	}
}

// Kind returns "nats".
func (n *NATSInterface) Kind() string { return "nats" }

// Name returns the instance nickname.
func (n *NATSInterface) Name() string { return n.name }

// Connected reports whether the broker connection is up.
func (n *NATSInterface) Connected() bool { return n.connected.Load() }

func (n *NATSInterface) buffer() *sampleBuffer { return n.buf }

// topicToSubject maps a slash-separated topic address to the broker's
// dot-separated subject space.
func topicToSubject(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}

// subjectToTopic is the inverse mapping.
func subjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

// Connect dials the broker and subscribes to the configured topic set.
func (n *NATSInterface) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.connected.Load() {
		return nil
	}

	opts := []nats.Option{
		nats.MaxReconnects(n.maxReconnects),
		nats.ReconnectWait(n.reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			n.logger.Warn("disconnected from broker, reconnecting", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if n.metrics != nil {
				n.metrics.reconnects.Inc()
			}
			n.logger.Info("reconnected to broker", "url", nc.ConnectedUrl())
		}),
	}
	if n.name != "" {
		opts = append(opts, nats.Name("mothics-"+n.name))
	}

	dial := func() error {
		conn, err := nats.Connect(n.url, opts...)
		if err != nil {
			return err
		}
		n.conn = conn
		return nil
	}

	if err := retry.Do(ctx, n.retryConfig, dial); err != nil {
		n.logger.Error("failed to connect to broker", "url", n.url, "error", err)
		return errors.WrapTransient(err, "nats", "Connect", "broker dial")
	}

	for _, topic := range n.topics {
		topic := topic
		sub, err := n.conn.Subscribe(topicToSubject(topic), func(msg *nats.Msg) {
			n.handleMessage(topic, msg.Data)
		})
		if err != nil {
			n.conn.Close()
			n.conn = nil
			return errors.WrapTransient(err, "nats", "Connect", "subscription")
		}
		n.subs = append(n.subs, sub)
		n.logger.Info("subscribed", "topic", topic)
	}

	n.connected.Store(true)
	n.logger.Info("connected", "url", n.url)
	return nil
}

// handleMessage types the payload and appends it to the buffer.
func (n *NATSInterface) handleMessage(topic string, payload []byte) {
	value := Tipify(string(payload))
	n.buf.append(topic, value)

	if n.metrics != nil {
		n.metrics.messagesReceived.Inc()
		n.metrics.lastActivity.Set(float64(time.Now().Unix()))
	}
	n.logger.Debug("message received", "topic", topic)
}

// Disconnect drains the subscriptions and closes the connection. Drain
// waits for in-flight handler callbacks, so delivery has stopped when it
// returns.
func (n *NATSInterface) Disconnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.conn == nil {
		n.connected.Store(false)
		return nil
	}

	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		n.conn = nil
		n.connected.Store(false)
		return errors.WrapTransient(err, "nats", "Disconnect", "drain")
	}

	// Drain closes asynchronously; wait for the connection to wind down.
	deadline := time.Now().Add(5 * time.Second)
	for !n.conn.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	n.conn = nil
	n.subs = nil
	n.connected.Store(false)
	n.logger.Info("disconnected")
	return nil
}

// Publish sends a payload on a subscribed topic. Unrecognized topics are a
// routing error.
func (n *NATSInterface) Publish(topic string, payload any) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.topicSet[topic]; !ok {
		return errors.WrapInvalid(errors.ErrUnknownTopic, "nats", "Publish",
			fmt.Sprintf("routing %q", topic))
	}
	if n.conn == nil || !n.connected.Load() {
		return errors.WrapTransient(errors.ErrNotConnected, "nats", "Publish", "connection check")
	}

	if err := n.conn.Publish(topicToSubject(topic), []byte(fmt.Sprint(payload))); err != nil {
		return errors.WrapTransient(err, "nats", "Publish", "broker publish")
	}
	n.logger.Debug("published", "topic", topic)
	return nil
}

// String implements fmt.Stringer for log output.
func (n *NATSInterface) String() string {
	return fmt.Sprintf("nats_%s(%s)", n.name, n.url)
}
