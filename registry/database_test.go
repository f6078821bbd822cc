package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/track"
)

const sampleTrack = `[
  {"timestamp": "2026-03-14T10:00:00Z", "input_data": {"rm1/gps/lat": 45.5, "rm1/gps/lon": 9.2, "rm2/wind/speed": 4.1}},
  {"timestamp": "2026-03-14T10:05:00Z", "input_data": {"rm1/gps/lat": 45.6, "rm1/gps/lon": 9.3, "rm2/wind/speed": 4.4}}
]`

func writeTrackFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestDatabase(t *testing.T, dir string) *Database {
	t.Helper()
	db, err := New(Deps{Config: Config{Directory: dir}})
	require.NoError(t, err)
	return db
}

func TestLoadTracks_ExtractsMetadata(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)

	db := newTestDatabase(t, dir)
	tracks := db.Tracks()
	require.Len(t, tracks, 1)

	meta := tracks[0]
	assert.Equal(t, "20260314-100000.json", meta.Filename)
	require.NotNil(t, meta.TrackTime)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local), *meta.TrackTime)
	assert.Equal(t, 5*time.Minute, meta.Duration)
	assert.Equal(t, 2, meta.Count)
	assert.Equal(t, []string{"rm1", "rm2"}, meta.RemoteUnits)
	assert.Equal(t, []string{"rm1/gps/lat", "rm1/gps/lon", "rm2/wind/speed"}, meta.CommonKeys)
	assert.False(t, meta.Checkpoint)
}

func TestLoadTracks_DashedDatetimePattern(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "run-2026-03-14T10-00-00.json", sampleTrack)

	db := newTestDatabase(t, dir)
	tracks := db.Tracks()
	require.Len(t, tracks, 1)
	require.NotNil(t, tracks[0].TrackTime)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local), *tracks[0].TrackTime)
}

func TestLoadTracks_NoDatetimeInFilename(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "mysteryrun.json", sampleTrack)

	db := newTestDatabase(t, dir)
	tracks := db.Tracks()
	require.Len(t, tracks, 1)
	assert.Nil(t, tracks[0].TrackTime)
}

func TestLoadTracks_CheckpointSubdirectory(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)
	writeTrackFile(t, dir, filepath.Join("chk", "20260314-100500.chk.json"), sampleTrack)

	db := newTestDatabase(t, dir)
	tracks := db.Tracks()
	require.Len(t, tracks, 2)

	var chk *TrackMetadata
	for i := range tracks {
		if tracks[i].Checkpoint {
			chk = &tracks[i]
		}
	}
	require.NotNil(t, chk)
	assert.Equal(t, "20260314-100500.chk.json", chk.Filename)

	path, err := db.GetTrackPath(chk.Filename)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "chk", chk.Filename), path)
}

func TestLoadTracks_SkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "good.json", sampleTrack)
	writeTrackFile(t, dir, "bad.json", `{"not": "an array"}`)
	writeTrackFile(t, dir, "nested.json", `[{"timestamp": "2026-03-14T10:00:00Z", "input_data": {"a/b/c": {"nested": 1}}}]`)

	db := newTestDatabase(t, dir)
	tracks := db.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, "good.json", tracks[0].Filename)
}

func TestLoadTracks_ValidationCanBeSkipped(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "bad.json", `{"not": "an array"}`)

	db, err := New(Deps{Config: Config{Directory: dir, SkipValidation: true}})
	require.NoError(t, err)
	assert.Len(t, db.Tracks(), 1)
}

func TestLoadTracks_IndexFileNotIndexed(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)

	db := newTestDatabase(t, dir)
	require.NoError(t, db.LoadTracks()) // index file exists on disk by now
	assert.Len(t, db.Tracks(), 1)
}

func TestLoadTracks_ReusesUnchangedEntries(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)

	db := newTestDatabase(t, dir)
	_, err := db.ExportTrack("20260314-100000.json", track.FormatCSV)
	require.NoError(t, err)

	// Rescan: the file's mtime is unchanged, so the entry with its
	// recorded exports survives.
	require.NoError(t, db.LoadTracks())
	tracks := db.Tracks()
	require.Len(t, tracks, 1)
	assert.Contains(t, tracks[0].Exports, "csv")
}

func TestListTracks_AppliesAliases(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)

	db, err := New(Deps{Config: Config{
		Directory:   dir,
		UnitAliases: map[string]string{"rm1": "bow sensor", "rm2": "masthead"},
	}})
	require.NoError(t, err)

	out := db.ListTracks()
	assert.Contains(t, out, "20260314-100000.json")
	assert.Contains(t, out, "bow sensor")
	assert.Contains(t, out, "masthead")
}

func TestSelectTrack(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)

	db := newTestDatabase(t, dir)

	meta, err := db.SelectTrack(0)
	require.NoError(t, err)
	assert.Equal(t, "20260314-100000.json", meta.Filename)

	_, err = db.SelectTrack(5)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTrackNotFound)
}

func TestGetTrackPath_UnknownTrack(t *testing.T) {
	db := newTestDatabase(t, t.TempDir())
	_, err := db.GetTrackPath("nope.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTrackNotFound)
}

func TestExportTrack(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)

	db := newTestDatabase(t, dir)

	path, err := db.ExportTrack("20260314-100000.json", track.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260314-100000.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timestamp,rm1/gps/lat")

	meta, err := db.SelectTrack(0)
	require.NoError(t, err)
	assert.Contains(t, meta.Exports, "csv")
}

func TestExportTrack_SkipsExistingTarget(t *testing.T) {
	dir := t.TempDir()
	writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)
	existing := writeTrackFile(t, dir, "20260314-100000.csv", "sentinel")

	db := newTestDatabase(t, dir)

	path, err := db.ExportTrack("20260314-100000.json", track.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, existing, path)

	data, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "sentinel", string(data))
}

func TestExportTrack_UnknownTrack(t *testing.T) {
	db := newTestDatabase(t, t.TempDir())
	_, err := db.ExportTrack("nope.json", track.FormatCSV)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTrackNotFound)
}

func TestRemoveTrack(t *testing.T) {
	dir := t.TempDir()
	path := writeTrackFile(t, dir, "20260314-100000.json", sampleTrack)

	db := newTestDatabase(t, dir)

	require.NoError(t, db.RemoveTrack("20260314-100000.json", false))
	assert.Empty(t, db.Tracks())
	assert.FileExists(t, path)

	require.NoError(t, db.LoadTracks())
	require.Len(t, db.Tracks(), 1)
	require.NoError(t, db.RemoveTrack("20260314-100000.json", true))
	assert.NoFileExists(t, path)
}

func TestRemoveTrack_UnknownTrack(t *testing.T) {
	db := newTestDatabase(t, t.TempDir())
	err := db.RemoveTrack("nope.json", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTrackNotFound)
}

func TestRegistryScanIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeTrackFile(t, dir, fmt.Sprintf("2026031%d-100000.json", i), sampleTrack)
	}

	db := newTestDatabase(t, dir)
	first := db.Tracks()
	require.NoError(t, db.LoadTracks())
	second := db.Tracks()

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Filename, second[i].Filename)
	}
}
