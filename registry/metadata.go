package registry

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"time"

	"github.com/Audace-Sailing-Team/mothics/comms"
	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/track"
)

// TrackMetadata is one registry entry, derived from a recorded file.
type TrackMetadata struct {
	Filename    string        `json:"filename"`
	TrackTime   *time.Time    `json:"track_datetime"`
	Duration    time.Duration `json:"track_duration"`
	Count       int           `json:"datapoint_count"`
	RemoteUnits []string      `json:"remote_units"`
	CommonKeys  []string      `json:"common_datapoint_keys"`
	Checkpoint  bool          `json:"checkpoint"`
	Exports     []string      `json:"exports"`
	Path        string        `json:"path"`
	ModTime     time.Time     `json:"mod_time"`
}

// Filenames carry the recording time in one of two shapes: the compact
// export form (20060102-150405) or a dashed ISO variant
// (2006-01-02T15-04-05).
var filenameDatetime = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}|\d{8}-\d{6}`)

// extractTrackTime parses the recording time out of a filename. Files
// without a recognizable stamp yield nil.
func extractTrackTime(filename string) *time.Time {
	match := filenameDatetime.FindString(filename)
	if match == "" {
		return nil
	}

	layout := "20060102-150405"
	if len(match) > 8 && match[10] == 'T' {
		layout = "2006-01-02T15-04-05"
	}
	ts, err := time.ParseInLocation(layout, match, time.Local)
	if err != nil {
		return nil
	}
	return &ts
}

// trackWire is the minimal structural shape of a recorded track file.
type trackWire struct {
	Timestamp *string                    `json:"timestamp"`
	InputData map[string]json.RawMessage `json:"input_data"`
}

// validateTrackData checks a file against the track schema: an array of
// objects each carrying a timestamp string and an input_data object of
// scalar or null values.
func validateTrackData(data []byte) error {
	var points []trackWire
	if err := json.Unmarshal(data, &points); err != nil {
		return errors.WrapInvalid(err, "registry", "validate", "structure decode")
	}

	for _, p := range points {
		if p.Timestamp == nil {
			return errors.WrapInvalid(errors.ErrValidationFailed, "registry", "validate", "timestamp check")
		}
		if p.InputData == nil {
			return errors.WrapInvalid(errors.ErrValidationFailed, "registry", "validate", "input_data check")
		}
		for _, raw := range p.InputData {
			trimmed := bytes.TrimSpace(raw)
			if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
				return errors.WrapInvalid(errors.ErrValidationFailed, "registry", "validate", "scalar value check")
			}
		}
	}
	return nil
}

// extractMetadata derives a registry entry from a decoded track file.
func extractMetadata(filename string, data []byte) TrackMetadata {
	meta := TrackMetadata{
		Filename:  filename,
		TrackTime: extractTrackTime(filename),
	}

	var points []trackWire
	if err := json.Unmarshal(data, &points); err != nil {
		return meta
	}
	meta.Count = len(points)
	if len(points) == 0 {
		return meta
	}

	if first, last := points[0].Timestamp, points[len(points)-1].Timestamp; first != nil && last != nil {
		start, errStart := track.ParseTimestamp(*first)
		end, errEnd := track.ParseTimestamp(*last)
		if errStart == nil && errEnd == nil {
			meta.Duration = end.Sub(start)
		}
	}

	units := make(map[string]struct{})
	for key := range points[0].InputData {
		units[comms.Unit(key)] = struct{}{}
	}
	for unit := range units {
		meta.RemoteUnits = append(meta.RemoteUnits, unit)
	}
	sort.Strings(meta.RemoteUnits)

	common := make(map[string]struct{}, len(points[0].InputData))
	for key := range points[0].InputData {
		common[key] = struct{}{}
	}
	for _, p := range points[1:] {
		for key := range common {
			if _, ok := p.InputData[key]; !ok {
				delete(common, key)
			}
		}
	}
	for key := range common {
		meta.CommonKeys = append(meta.CommonKeys, key)
	}
	sort.Strings(meta.CommonKeys)

	return meta
}
