// Package manager wires the core components together and drives their
// lifecycle: live collection from the configured transports, replay of a
// recorded track, and the narrow consumer contract exposed to the
// presentation layer.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Audace-Sailing-Team/mothics/aggregator"
	"github.com/Audace-Sailing-Team/mothics/comms"
	"github.com/Audace-Sailing-Team/mothics/config"
	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/metric"
	"github.com/Audace-Sailing-Team/mothics/preprocess"
	"github.com/Audace-Sailing-Team/mothics/registry"
	"github.com/Audace-Sailing-Team/mothics/track"
)

// Mode is the manager's operating mode.
type Mode string

const (
	ModeIdle   Mode = ""
	ModeLive   Mode = "live"
	ModeReplay Mode = "replay"
)

// Status is a point-in-time view of the session.
type Status struct {
	SessionID    string `json:"session_id"`
	Mode         Mode   `json:"mode"`
	Communicator string `json:"communicator"`
	Aggregator   string `json:"aggregator"`
	Track        string `json:"track"`
	Registry     string `json:"registry"`
}

// Deps holds runtime dependencies for a Manager.
type Deps struct {
	Config  *config.Config
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Manager owns one collection session. It is constructed once at process
// start and passed by reference to whoever needs lifecycle control.
type Manager struct {
	cfg       *config.Config
	metrics   *metric.Registry
	logger    *slog.Logger
	sessionID string

	mu            sync.Mutex
	mode          Mode
	comm          *comms.Communicator
	agg           *aggregator.Aggregator
	trk           *track.Track
	db            *registry.Database
	angle         *preprocess.AngleOffset
	lastTrackFile string
}

// New creates a Manager from a validated configuration.
func New(deps Deps) (*Manager, error) {
	if deps.Config == nil {
		return nil, errors.WrapFatal(errors.ErrInvalidConfig, "manager", "New", "config check")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "manager")
	}

	return &Manager{
		cfg:       deps.Config,
		metrics:   deps.Metrics,
		logger:    logger,
		sessionID: uuid.NewString(),
	}, nil
}

// SessionID returns the identifier of this collection session.
func (m *Manager) SessionID() string { return m.sessionID }

// StartLive builds the live pipeline: transports, communicator,
// calibration chain, track and sampling loop.
func (m *Manager) StartLive(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ModeIdle {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "manager", "StartLive",
			fmt.Sprintf("already running in %q mode", m.mode))
	}

	if err := m.initCommon(ModeLive, ""); err != nil {
		return err
	}

	m.comm = comms.NewCommunicator(comms.CommunicatorDeps{
		Config:  m.cfg.Communicator,
		Metrics: m.metrics,
		Logger:  m.logger.With("component", "communicator"),
	})
	for _, sc := range m.cfg.Serial {
		m.comm.AddInterfaces(comms.NewSerialInterface(comms.SerialDeps{
			Config:  sc,
			Metrics: m.metrics,
			Logger:  m.logger.With("component", "serial-interface", "name", sc.Name),
		}))
	}
	for _, nc := range m.cfg.NATS {
		m.comm.AddInterfaces(comms.NewNATSInterface(comms.NATSDeps{
			Config:  nc,
			Metrics: m.metrics,
			Logger:  m.logger.With("component", "nats-interface", "name", nc.Name),
		}))
	}

	m.registerPreprocessors()

	if err := m.comm.Connect(ctx); err != nil {
		m.teardown()
		return err
	}

	agg, err := aggregator.New(aggregator.Deps{
		Config:  m.cfg.Aggregator,
		Source:  m.comm.RawData,
		Track:   m.trk,
		Metrics: m.metrics,
		Logger:  m.logger.With("component", "aggregator"),
	})
	if err != nil {
		m.teardown()
		return err
	}
	m.agg = agg
	m.agg.Start()

	m.mode = ModeLive
	m.logger.Info("live mode started", "session", m.sessionID,
		"interfaces", m.comm.Interfaces())
	return nil
}

// StartReplay loads a recorded track and serves it through the consumer
// contract. No sampling loop runs in replay: every Database call advances
// the cursor by one point.
func (m *Manager) StartReplay(trackFile string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ModeIdle {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "manager", "StartReplay",
			fmt.Sprintf("already running in %q mode", m.mode))
	}
	if trackFile == "" {
		return errors.WrapFatal(errors.ErrNoDataSource, "manager", "StartReplay", "track file check")
	}

	if err := m.initCommon(ModeReplay, trackFile); err != nil {
		return err
	}

	m.lastTrackFile = trackFile
	m.mode = ModeReplay
	m.logger.Info("replay mode started", "session", m.sessionID, "track", trackFile)
	return nil
}

// initCommon builds the components shared by both modes. Caller holds the
// mutex.
func (m *Manager) initCommon(mode Mode, trackFile string) error {
	db, err := registry.New(registry.Deps{
		Config: m.cfg.Registry,
		Logger: m.logger.With("component", "registry"),
	})
	if err != nil {
		// Discovery is optional for a running session.
		m.logger.Error("registry initialization failed", "error", err)
	} else {
		m.db = db
	}

	trackCfg := m.cfg.Track
	trackCfg.Mode = track.ModeLive
	trk, err := track.New(track.Deps{
		Config:  trackCfg,
		Metrics: m.metrics,
		Logger:  m.logger.With("component", "track"),
	})
	if err != nil {
		return err
	}
	if mode == ModeReplay {
		if err := trk.Load(trackFile); err != nil {
			return err
		}
	}
	m.trk = trk
	return nil
}

// registerPreprocessors builds the calibration chain from configuration.
// Caller holds the mutex.
func (m *Manager) registerPreprocessors() {
	if len(m.cfg.Preprocess.UnitConversions) > 0 {
		rules := make(map[string]preprocess.Rule, len(m.cfg.Preprocess.UnitConversions))
		for topic, rc := range m.cfg.Preprocess.UnitConversions {
			scale := rc.Scale
			if scale == 0 {
				scale = 1
			}
			offset := rc.Offset
			rules[topic] = preprocess.Rule{
				Dest:    rc.Dest,
				Convert: func(v float64) float64 { return v*scale + offset },
			}
		}
		m.comm.RegisterPreprocessor(preprocess.NewUnitConversion(rules,
			m.logger.With("component", "preprocess", "processor", "unit-conversion")))
	}

	if len(m.cfg.Preprocess.AngleOffsets) > 0 {
		m.angle = preprocess.NewAngleOffset(m.cfg.Preprocess.AngleOffsets,
			m.logger.With("component", "preprocess", "processor", "angle-offset"))
		m.comm.RegisterPreprocessor(m.angle)
	}
}

// Stop tears the session down: sampling loop first, transports second.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == ModeIdle {
		return nil
	}

	m.logger.Info("stopping system", "mode", m.mode)
	err := m.teardown()
	m.mode = ModeIdle
	m.logger.Info("system stopped")
	return err
}

// teardown releases the running components. Caller holds the mutex.
func (m *Manager) teardown() error {
	var firstErr error

	if m.agg != nil {
		m.agg.Stop()
		m.agg = nil
	}
	if m.comm != nil {
		if err := m.comm.Disconnect(); err != nil {
			m.logger.Error("communicator shutdown failed", "error", err)
			firstErr = err
		}
		m.comm = nil
	}
	m.angle = nil
	m.trk = nil
	return firstErr
}

// Restart stops the session and starts it again in the given mode, or in
// the previous mode when none is given.
func (m *Manager) Restart(ctx context.Context, mode Mode) error {
	m.mu.Lock()
	previous := m.mode
	m.mu.Unlock()

	if mode == ModeIdle {
		mode = previous
	}

	if err := m.Stop(); err != nil {
		m.logger.Warn("stop during restart reported an error", "error", err)
	}

	switch mode {
	case ModeLive:
		return m.StartLive(ctx)
	case ModeReplay:
		m.mu.Lock()
		trackFile := m.lastTrackFile
		m.mu.Unlock()
		return m.StartReplay(trackFile)
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "manager", "Restart",
			fmt.Sprintf("mode %q dispatch", mode))
	}
}

// Status reports the state of every managed component.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		SessionID:    m.sessionID,
		Mode:         m.mode,
		Communicator: "stopped",
		Aggregator:   "stopped",
		Track:        "not active",
		Registry:     "not initialized",
	}
	if m.comm != nil {
		s.Communicator = "running"
	}
	if m.agg != nil && m.agg.Running() {
		s.Aggregator = "running"
	}
	if m.trk != nil {
		s.Track = "active"
	}
	if m.db != nil {
		s.Registry = "available"
	}
	return s
}

// Database returns the current track snapshot: the live track itself, or
// the next replay prefix.
func (m *Manager) Database() (*track.Track, error) {
	m.mu.Lock()
	trk := m.trk
	m.mu.Unlock()

	if trk == nil {
		return nil, errors.WrapInvalid(errors.ErrNoDataSource, "manager", "Database", "track lookup")
	}
	return trk.Current()
}

// Registry returns the track metadata registry, nil before a start.
func (m *Manager) Registry() *registry.Database {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// SaveStatus returns the track's recording state.
func (m *Manager) SaveStatus() track.SaveMode {
	m.mu.Lock()
	trk := m.trk
	m.mu.Unlock()

	if trk == nil {
		return track.SaveModeOnDemand
	}
	return trk.SaveStatus()
}

// SetAggregatorRefreshRate updates the sampling interval.
func (m *Manager) SetAggregatorRefreshRate(interval time.Duration) {
	m.mu.Lock()
	agg := m.agg
	m.mu.Unlock()

	if agg == nil {
		m.logger.Warn("no aggregator to configure")
		return
	}
	agg.SetInterval(interval)
}

// StartSave begins recording the current session.
func (m *Manager) StartSave() {
	m.mu.Lock()
	trk := m.trk
	m.mu.Unlock()

	if trk == nil {
		m.logger.Warn("no track to record")
		return
	}
	trk.StartRun()
}

// StopSave ends the recording and exports it.
func (m *Manager) StopSave() error {
	m.mu.Lock()
	trk := m.trk
	m.mu.Unlock()

	if trk == nil {
		m.logger.Warn("no track to record")
		return nil
	}
	return trk.EndRun()
}

// Calibrate zeroes angle topics against their latest raw reading. A no-op
// when no angle-offset processor is configured.
func (m *Manager) Calibrate(topics ...string) {
	m.mu.Lock()
	angle := m.angle
	m.mu.Unlock()

	if angle == nil {
		m.logger.Warn("no angle-offset processor configured")
		return
	}
	angle.Calibrate(topics...)
}
