package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/track"
)

// Config holds the registry options.
type Config struct {
	Directory      string            `json:"directory"`
	IndexFile      string            `json:"index_file"`
	SkipValidation bool              `json:"skip_validation"`
	UnitAliases    map[string]string `json:"unit_aliases"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "RegistryConfig", "Validate",
			"directory is required")
	}
	return nil
}

// Deps holds runtime dependencies for a Database.
type Deps struct {
	Config Config
	Logger *slog.Logger
}

// Database is the indexed metadata registry over a directory of recorded
// track files. The index persists to a JSON document next to the tracks
// and is rebuilt by scanning; entries of files whose modification time
// has not changed are reused instead of re-read.
type Database struct {
	dir            string
	indexPath      string
	skipValidation bool
	aliases        map[string]string

	mu     sync.Mutex
	tracks []*TrackMetadata
	byName map[string]*TrackMetadata

	logger *slog.Logger
}

// New creates a Database over a track directory and runs an initial scan.
func New(deps Deps) (*Database, error) {
	cfg := deps.Config
	if cfg.IndexFile == "" {
		cfg.IndexFile = "tracks_metadata.json"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}

	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "registry", "New", "directory setup")
	}

	d := &Database{
		dir:            cfg.Directory,
		indexPath:      filepath.Join(cfg.Directory, cfg.IndexFile),
		skipValidation: cfg.SkipValidation,
		aliases:        cfg.UnitAliases,
		byName:         make(map[string]*TrackMetadata),
		logger:         logger,
	}

	d.readIndex()
	if err := d.LoadTracks(); err != nil {
		return nil, err
	}
	return d, nil
}

// readIndex loads the persisted index so the scan can reuse entries of
// unchanged files. A missing or corrupt index is not an error.
func (d *Database) readIndex() {
	data, err := os.ReadFile(d.indexPath)
	if err != nil {
		return
	}

	var index map[string]*TrackMetadata
	if err := json.Unmarshal(data, &index); err != nil {
		d.logger.Warn("index file unreadable, rebuilding", "path", d.indexPath, "error", err)
		return
	}
	d.byName = index
}

// writeIndex persists the index document. Caller holds the mutex.
func (d *Database) writeIndex() {
	index := make(map[string]*TrackMetadata, len(d.tracks))
	for _, t := range d.tracks {
		index[t.Filename] = t
	}

	data, err := json.MarshalIndent(index, "", "  ")
	if err == nil {
		err = os.WriteFile(d.indexPath, data, 0o644)
	}
	if err != nil {
		d.logger.Error("index write failed", "path", d.indexPath, "error", err)
	}
}

// LoadTracks rescans the track directory and its checkpoint subdirectory,
// rebuilding the index. Invalid files are skipped with a warning, never
// abort the scan.
func (d *Database) LoadTracks() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	previous := d.byName
	d.tracks = nil
	d.byName = make(map[string]*TrackMetadata)

	scan := func(path string, checkpoint bool) {
		name := filepath.Base(path)
		if path == d.indexPath {
			return
		}

		info, err := os.Stat(path)
		if err != nil {
			d.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return
		}

		if prev, ok := previous[name]; ok && prev.ModTime.Equal(info.ModTime()) {
			prev.Path = path
			d.insert(prev)
			return
		}

		data, err := os.ReadFile(path)
		if err != nil {
			d.logger.Warn("skipping unreadable file", "path", path, "error", err)
			return
		}
		if !d.skipValidation {
			if err := validateTrackData(data); err != nil {
				d.logger.Warn("skipping invalid file", "path", path, "error", err)
				return
			}
		}

		meta := extractMetadata(name, data)
		meta.Checkpoint = checkpoint
		meta.Path = path
		meta.ModTime = info.ModTime()
		if prev, ok := previous[name]; ok {
			meta.Exports = prev.Exports
		}
		d.insert(&meta)
	}

	mains, err := filepath.Glob(filepath.Join(d.dir, "*.json"))
	if err != nil {
		return errors.WrapTransient(err, "registry", "LoadTracks", "directory scan")
	}
	for _, path := range mains {
		scan(path, strings.HasSuffix(path, ".chk.json"))
	}

	chks, err := filepath.Glob(filepath.Join(d.dir, "chk", "*.chk.json"))
	if err != nil {
		return errors.WrapTransient(err, "registry", "LoadTracks", "checkpoint scan")
	}
	for _, path := range chks {
		scan(path, true)
	}

	sort.Slice(d.tracks, func(i, j int) bool { return d.tracks[i].Filename < d.tracks[j].Filename })
	d.writeIndex()

	d.logger.Info("registry loaded", "tracks", len(d.tracks))
	return nil
}

func (d *Database) insert(meta *TrackMetadata) {
	d.tracks = append(d.tracks, meta)
	d.byName[meta.Filename] = meta
}

// Tracks returns a snapshot of the registry entries, ordered by filename.
func (d *Database) Tracks() []TrackMetadata {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]TrackMetadata, len(d.tracks))
	for i, t := range d.tracks {
		out[i] = *t
	}
	return out
}

// ListTracks renders the registry as an aligned text table, applying the
// configured remote-unit aliases.
func (d *Database) ListTracks() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.tracks) == 0 {
		d.logger.Warn("no tracks available")
		return "no tracks available\n"
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Index\tFilename\tDate/Time\tCheckpoint\tDuration\tData Points\tRemote Units")
	for i, t := range d.tracks {
		units := make([]string, len(t.RemoteUnits))
		for j, u := range t.RemoteUnits {
			if alias, ok := d.aliases[u]; ok {
				u = alias
			}
			units[j] = u
		}

		when := "n/a"
		if t.TrackTime != nil {
			when = t.TrackTime.Format("2006-01-02 15:04:05")
		}
		duration := "n/a"
		if t.Duration > 0 {
			duration = t.Duration.Round(time.Second).String()
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\t%d\t%s\n",
			i, t.Filename, when, t.Checkpoint, duration, t.Count, strings.Join(units, ", "))
	}
	w.Flush()
	return sb.String()
}

// SelectTrack returns the entry at the given scan index.
func (d *Database) SelectTrack(index int) (TrackMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if index < 0 || index >= len(d.tracks) {
		return TrackMetadata{}, errors.WrapInvalid(errors.ErrTrackNotFound, "registry", "SelectTrack",
			fmt.Sprintf("index %d lookup", index))
	}
	return *d.tracks[index], nil
}

// GetTrackPath resolves a registry entry to its file path, preferring the
// checkpoint subdirectory for checkpoint entries.
func (d *Database) GetTrackPath(filename string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.trackPath(filename)
}

func (d *Database) trackPath(filename string) (string, error) {
	entry, ok := d.byName[filename]
	if !ok {
		return "", errors.WrapInvalid(errors.ErrTrackNotFound, "registry", "GetTrackPath",
			fmt.Sprintf("%q lookup", filename))
	}

	if entry.Checkpoint {
		if path := filepath.Join(d.dir, "chk", filename); fileExists(path) {
			return path, nil
		}
	}
	if path := filepath.Join(d.dir, filename); fileExists(path) {
		return path, nil
	}
	return "", errors.WrapInvalid(errors.ErrTrackNotFound, "registry", "GetTrackPath",
		fmt.Sprintf("%q file resolution", filename))
}

// ExportTrack converts a recorded track to another format next to the
// source file. An already existing target is left alone. The produced
// format is recorded in the entry's export set.
func (d *Database) ExportTrack(filename string, format track.Format) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.byName[filename]
	if !ok {
		return "", errors.WrapInvalid(errors.ErrTrackNotFound, "registry", "ExportTrack",
			fmt.Sprintf("%q lookup", filename))
	}

	base := strings.TrimSuffix(strings.TrimSuffix(filename, ".json"), ".chk")
	target := filepath.Join(d.dir, base+"."+string(format))
	if fileExists(target) {
		d.logger.Info("export target already exists, skipping", "path", target)
		return target, nil
	}

	source, err := d.trackPath(filename)
	if err != nil {
		return "", err
	}

	scratch, err := track.New(track.Deps{Config: track.Config{OutputDir: d.dir}})
	if err != nil {
		return "", err
	}
	if err := scratch.Load(source); err != nil {
		return "", err
	}
	if _, err := scratch.Save(format, base, d.dir, nil); err != nil {
		return "", err
	}

	entry.Exports = appendUnique(entry.Exports, string(format))
	d.writeIndex()
	d.logger.Info("track exported", "source", source, "target", target)
	return target, nil
}

// RemoveTrack drops a registry entry and optionally deletes the backing
// file. A missing entry is an error; so is a failing file deletion.
func (d *Database) RemoveTrack(filename string, deleteFile bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.byName[filename]
	if !ok {
		return errors.WrapInvalid(errors.ErrTrackNotFound, "registry", "RemoveTrack",
			fmt.Sprintf("%q lookup", filename))
	}

	if deleteFile {
		path, err := d.trackPath(filename)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil {
			return errors.WrapTransient(err, "registry", "RemoveTrack", "file deletion")
		}
	}

	delete(d.byName, filename)
	for i, t := range d.tracks {
		if t == entry {
			d.tracks = append(d.tracks[:i], d.tracks[i+1:]...)
			break
		}
	}
	d.writeIndex()
	d.logger.Info("track removed", "filename", filename, "deleted", deleteFile)
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
