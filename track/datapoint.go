package track

import (
	"encoding/json"
	"time"

	"github.com/Audace-Sailing-Team/mothics/errors"
)

// DataPoint is one flattened, timestamped snapshot across all topics.
type DataPoint struct {
	Timestamp time.Time      `json:"timestamp"`
	InputData map[string]any `json:"input_data"`
}

// timestampLayouts are the accepted on-disk timestamp forms. Files written
// by this package carry an offset; older recordings may be naive local
// time.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
}

// ParseTimestamp parses an ISO-8601 timestamp from a track file.
func ParseTimestamp(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, s, time.Local)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// UnmarshalJSON accepts both offset-carrying and naive timestamps.
func (d *DataPoint) UnmarshalJSON(b []byte) error {
	var wire struct {
		Timestamp string         `json:"timestamp"`
		InputData map[string]any `json:"input_data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}

	ts, err := ParseTimestamp(wire.Timestamp)
	if err != nil {
		return errors.WrapInvalid(err, "track", "UnmarshalJSON", "timestamp parse")
	}

	d.Timestamp = ts
	d.InputData = wire.InputData
	return nil
}
