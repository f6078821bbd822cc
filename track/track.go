package track

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/metric"
)

// Mode selects where a Track's points come from.
type Mode string

const (
	// ModeLive accumulates points appended by the aggregation loop.
	ModeLive Mode = "live"
	// ModeReplay serves points loaded from a recorded file, one per poll.
	ModeReplay Mode = "replay"
)

// SaveMode is the recording state of a live Track.
type SaveMode string

const (
	// SaveModeOnDemand buffers points in memory without exporting them.
	SaveModeOnDemand SaveMode = "on-demand"
	// SaveModeContinuous accumulates points for export and checkpoints
	// them periodically.
	SaveModeContinuous SaveMode = "continuous"
)

// fullSpecifier marks crash-recovery checkpoints exempt from rotation.
const fullSpecifier = "-full"

// Config holds the construction options of a Track.
type Config struct {
	FieldNames         []string      `json:"field_names"`
	Mode               Mode          `json:"mode"`
	SaveMode           SaveMode      `json:"save_mode"`
	CheckpointInterval time.Duration `json:"checkpoint_interval"`
	MaxCheckpointFiles int           `json:"max_checkpoint_files"`
	TrimFraction       float64       `json:"trim_fraction"`
	MaxDatapoints      int           `json:"max_datapoints"` // 0 for unbounded
	OutputDir          string        `json:"output_dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeLive,
		SaveMode:           SaveModeOnDemand,
		CheckpointInterval: 30 * time.Second,
		MaxCheckpointFiles: 3,
		TrimFraction:       0.5,
		OutputDir:          "data",
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Mode != "" && c.Mode != ModeLive && c.Mode != ModeReplay {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "TrackConfig", "Validate",
			fmt.Sprintf("mode %q check", c.Mode))
	}
	if c.SaveMode != "" && c.SaveMode != SaveModeOnDemand && c.SaveMode != SaveModeContinuous {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "TrackConfig", "Validate",
			fmt.Sprintf("save mode %q check", c.SaveMode))
	}
	if c.TrimFraction < 0 || c.TrimFraction >= 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "TrackConfig", "Validate",
			"trim fraction range check")
	}
	return nil
}

// trackMetrics holds Prometheus metrics for one Track.
type trackMetrics struct {
	pointsAdded        prometheus.Counter
	checkpointsWritten prometheus.Counter
	evictions          prometheus.Counter
}

func newTrackMetrics(registry *metric.Registry) *trackMetrics {
	if registry == nil {
		return nil
	}

	m := &trackMetrics{
		pointsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mothics",
			Subsystem: "track",
			Name:      "points_added_total",
			Help:      "Data points appended to the track",
		}),
		checkpointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mothics",
			Subsystem: "track",
			Name:      "checkpoints_written_total",
			Help:      "Checkpoint files written, full checkpoints included",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mothics",
			Subsystem: "track",
			Name:      "evictions_total",
			Help:      "Capacity evictions of the in-memory point buffer",
		}),
	}

	_ = registry.RegisterCounter("track", "points_added", m.pointsAdded)
	_ = registry.RegisterCounter("track", "checkpoints_written", m.checkpointsWritten)
	_ = registry.RegisterCounter("track", "evictions", m.evictions)

	return m
}

// Deps holds runtime dependencies for a Track.
type Deps struct {
	Config  Config
	Metrics *metric.Registry
	Logger  *slog.Logger
}

// Track is the append-only time-series store. A single producer appends
// via AddPoint; control callers drive the save-mode state machine through
// StartRun and EndRun.
type Track struct {
	mu sync.Mutex

	points     []DataPoint
	fieldNames []string
	mode       Mode
	saveMode   SaveMode

	checkpointInterval time.Duration
	maxCheckpointFiles int
	trimFraction       float64
	maxDatapoints      int

	outputDir     string
	checkpointDir string

	replayIndex       int
	lastCheckpoint    time.Time
	saveIntervalStart int

	logger  *slog.Logger
	metrics *trackMetrics
	now     func() time.Time
}

// New creates a Track and its output directories.
func New(deps Deps) (*Track, error) {
	cfg := deps.Config
	if cfg.Mode == "" {
		cfg.Mode = ModeLive
	}
	if cfg.SaveMode == "" {
		cfg.SaveMode = SaveModeOnDemand
	}
	if cfg.CheckpointInterval == 0 {
		cfg.CheckpointInterval = 30 * time.Second
	}
	if cfg.MaxCheckpointFiles == 0 {
		cfg.MaxCheckpointFiles = 3
	}
	if cfg.TrimFraction == 0 {
		cfg.TrimFraction = 0.5
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "data"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "track")
	}

	checkpointDir := filepath.Join(cfg.OutputDir, "chk")
	if err := os.MkdirAll(checkpointDir, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "track", "New", "output directory setup")
	}

	t := &Track{
		fieldNames:         cfg.FieldNames,
		mode:               cfg.Mode,
		saveMode:           cfg.SaveMode,
		checkpointInterval: cfg.CheckpointInterval,
		maxCheckpointFiles: cfg.MaxCheckpointFiles,
		trimFraction:       cfg.TrimFraction,
		maxDatapoints:      cfg.MaxDatapoints,
		outputDir:          cfg.OutputDir,
		checkpointDir:      checkpointDir,
		logger:             logger,
		metrics:            newTrackMetrics(deps.Metrics),
		now:                time.Now,
	}

	logger.Info("track ready", "output_dir", t.outputDir, "checkpoint_dir", t.checkpointDir)
	return t, nil
}

// Len returns the number of in-memory points.
func (t *Track) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.points)
}

// Points returns a copy of the in-memory point sequence.
func (t *Track) Points() []DataPoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DataPoint, len(t.points))
	copy(out, t.points)
	return out
}

// Latest returns the newest point, if any.
func (t *Track) Latest() (DataPoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.points) == 0 {
		return DataPoint{}, false
	}
	return t.points[len(t.points)-1], true
}

// Mode returns live or replay.
func (t *Track) Mode() Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

// SaveStatus returns the current recording state.
func (t *Track) SaveStatus() SaveMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveMode
}

// FieldNames returns the enforced field set, nil when unenforced.
func (t *Track) FieldNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fieldNames
}

// OutputDir returns the directory exports are written to.
func (t *Track) OutputDir() string { return t.outputDir }

// CheckpointDir returns the checkpoint subdirectory.
func (t *Track) CheckpointDir() string { return t.checkpointDir }

// AddPoint appends one snapshot. The field set must match the enforced
// one when field enforcement is on. Capacity overflow forces a full
// checkpoint and evicts everything but the point just added; persistence
// failures along the way are logged, never returned, so a bad disk cannot
// stop collection.
func (t *Track) AddPoint(timestamp time.Time, data map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fieldNames != nil && !sameFieldSet(t.fieldNames, data) {
		return errors.WrapInvalid(errors.ErrInconsistentFields, "track", "AddPoint",
			fmt.Sprintf("expected fields %v, got %v", t.fieldNames, mapKeys(data)))
	}

	t.points = append(t.points, DataPoint{Timestamp: timestamp, InputData: data})
	if t.metrics != nil {
		t.metrics.pointsAdded.Inc()
	}

	if t.maxDatapoints > 0 && len(t.points) > t.maxDatapoints {
		t.evict()
		return nil
	}

	t.maybeCheckpoint()
	return nil
}

// evict writes every point except the newest to a rotation-exempt full
// checkpoint, then drops them from memory. Replaying the full checkpoint
// followed by the continuing track has no gap and no overlap.
func (t *Track) evict() {
	prior := t.points[:len(t.points)-1]
	if err := t.writeCheckpoint(prior, fullSpecifier); err != nil {
		t.logger.Error("full checkpoint failed, evicting anyway", "error", err)
	}

	newest := t.points[len(t.points)-1]
	t.points = []DataPoint{newest}
	t.saveIntervalStart = 0
	if t.metrics != nil {
		t.metrics.evictions.Inc()
	}
	t.logger.Warn("point buffer at capacity, evicted to full checkpoint",
		"evicted", len(prior), "max_datapoints", t.maxDatapoints)
}

// maybeCheckpoint writes a timed checkpoint of the current recording
// window. Caller holds the mutex.
func (t *Track) maybeCheckpoint() {
	if t.saveMode != SaveModeContinuous || t.checkpointInterval <= 0 {
		return
	}

	now := t.now()
	if !t.lastCheckpoint.IsZero() && now.Sub(t.lastCheckpoint) <= t.checkpointInterval {
		return
	}
	t.lastCheckpoint = now

	if err := t.writeCheckpoint(t.runSlice(), ""); err != nil {
		t.logger.Error("checkpoint write failed", "error", err)
	}
	t.rotateCheckpoints()
}

// runSlice returns the current recording window. The upper bound excludes
// the newest point, matching the exported interval of EndRun.
func (t *Track) runSlice() []DataPoint {
	lo := t.saveIntervalStart
	hi := len(t.points) - 1
	if hi < lo {
		hi = lo
	}
	return t.points[lo:hi]
}

// writeCheckpoint persists a point slice under a timestamped name in the
// checkpoint directory.
func (t *Track) writeCheckpoint(points []DataPoint, specifier string) error {
	name := t.now().Format("20060102-150405") + specifier + ".chk"
	path := filepath.Join(t.checkpointDir, name+".json")

	if err := writeJSON(path, points); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPersistence, err),
			"track", "writeCheckpoint", "file write")
	}
	if t.metrics != nil {
		t.metrics.checkpointsWritten.Inc()
	}
	t.logger.Debug("checkpoint written", "path", path, "points", len(points))
	return nil
}

// rotateCheckpoints deletes the oldest non-full checkpoint files beyond
// the configured limit. Full checkpoints never rotate out.
func (t *Track) rotateCheckpoints() {
	files, err := t.checkpointFiles(false)
	if err != nil {
		t.logger.Error("checkpoint rotation scan failed", "error", err)
		return
	}
	if len(files) <= t.maxCheckpointFiles {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	for _, f := range files[:len(files)-t.maxCheckpointFiles] {
		if err := os.Remove(f.path); err != nil {
			t.logger.Error("checkpoint removal failed", "path", f.path, "error", err)
			continue
		}
		t.logger.Debug("rotated out checkpoint", "path", f.path)
	}
}

type checkpointFile struct {
	path  string
	mtime time.Time
}

// checkpointFiles lists the on-disk checkpoints, optionally including the
// rotation-exempt full ones.
func (t *Track) checkpointFiles(includeFull bool) ([]checkpointFile, error) {
	matches, err := filepath.Glob(filepath.Join(t.checkpointDir, "*.chk.json"))
	if err != nil {
		return nil, err
	}

	var files []checkpointFile
	for _, path := range matches {
		if !includeFull && strings.Contains(filepath.Base(path), fullSpecifier) {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		files = append(files, checkpointFile{path: path, mtime: info.ModTime()})
	}
	return files, nil
}

// StartRun switches recording on. Points older than the recording window
// are trimmed since they will never be exported.
func (t *Track) StartRun() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.saveMode != SaveModeOnDemand {
		t.logger.Warn("cannot start run", "save_mode", t.saveMode)
		return
	}

	if trim := int(float64(len(t.points)) * t.trimFraction); trim > 0 {
		t.points = append([]DataPoint(nil), t.points[trim:]...)
		t.logger.Info("trimmed pre-run points", "trimmed", trim)
	}

	t.saveMode = SaveModeContinuous
	t.saveIntervalStart = len(t.points) - 1
	if t.saveIntervalStart < 0 {
		t.saveIntervalStart = 0
	}
	t.logger.Info("logging data", "interval_start", t.saveIntervalStart)
}

// EndRun switches recording off: the recording window is exported to the
// default format and the non-full checkpoints become redundant and are
// deleted. The guard intentionally accepts any state other than
// on-demand, mirroring the historical behavior of the platform.
func (t *Track) EndRun() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.saveMode == SaveModeOnDemand {
		t.logger.Warn("cannot end run", "save_mode", t.saveMode)
		return nil
	}

	var exportErr error
	window := t.runSlice()
	name := t.now().Format("20060102-150405")
	path := filepath.Join(t.outputDir, name+".json")
	if err := writeJSON(path, window); err != nil {
		exportErr = errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPersistence, err),
			"track", "EndRun", "run export")
		t.logger.Error("run export failed", "path", path, "error", err)
	} else {
		t.logger.Info("run exported", "path", path, "points", len(window))
	}

	files, err := t.checkpointFiles(false)
	if err != nil {
		t.logger.Error("checkpoint cleanup scan failed", "error", err)
	}
	for _, f := range files {
		if err := os.Remove(f.path); err != nil {
			t.logger.Error("checkpoint cleanup failed", "path", f.path, "error", err)
		}
	}

	t.saveIntervalStart = 0
	t.lastCheckpoint = time.Time{}
	t.saveMode = SaveModeOnDemand
	t.logger.Info("data logging ended")
	return exportErr
}

// Load replaces the in-memory points with a recorded file and switches to
// replay mode.
func (t *Track) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.WrapTransient(err, "track", "Load", "file read")
	}

	points, err := decodePoints(data)
	if err != nil {
		return errors.WrapInvalid(err, "track", "Load", "file decode")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.points = points
	t.mode = ModeReplay
	t.replayIndex = 0
	t.logger.Info("track loaded for replay", "path", path, "points", len(points))
	return nil
}

// Current returns the caller-visible snapshot. Live tracks return
// themselves. Replay tracks return a new snapshot holding one more point
// than the previous call, clamped at the full sequence once the cursor
// reaches the end.
func (t *Track) Current() (*Track, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode != ModeReplay {
		return t, nil
	}

	if len(t.points) == 0 {
		return nil, errors.WrapInvalid(errors.ErrNoDataPoints, "track", "Current", "replay")
	}

	if t.replayIndex < len(t.points) {
		t.replayIndex++
	}

	snap := &Track{
		points:     append([]DataPoint(nil), t.points[:t.replayIndex]...),
		fieldNames: t.fieldNames,
		mode:       ModeLive,
		saveMode:   SaveModeOnDemand,
		logger:     t.logger,
		now:        time.Now,
	}
	return snap, nil
}

func sameFieldSet(fields []string, data map[string]any) bool {
	if len(fields) != len(data) {
		return false
	}
	for _, f := range fields {
		if _, ok := data[f]; !ok {
			return false
		}
	}
	return true
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
