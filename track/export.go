package track

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Audace-Sailing-Team/mothics/errors"
)

// Format is a supported export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatGPX  Format = "gpx"
)

// Interval selects a half-open point range [Start, End) for export.
type Interval struct {
	Start int
	End   int
}

// Save exports the track to a file named <name>.<format> under dir. An
// empty name defaults to the current timestamp; an empty dir defaults to
// the track's output directory; a nil interval exports every point. The
// written path is returned.
func (t *Track) Save(format Format, name, dir string, interval *Interval) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if name == "" {
		name = t.now().Format("20060102-150405")
	}
	if dir == "" {
		dir = t.outputDir
	}

	points := t.points
	if interval != nil {
		lo, hi := interval.Start, interval.End
		if lo < 0 {
			lo = 0
		}
		if hi > len(points) {
			hi = len(points)
		}
		if hi < lo {
			hi = lo
		}
		points = points[lo:hi]
	}

	path := filepath.Join(dir, name+"."+string(format))
	var err error
	switch format {
	case FormatJSON:
		err = writeJSON(path, points)
	case FormatCSV:
		err = t.writeCSV(path, points)
	case FormatGPX:
		err = writeGPX(path, points)
	default:
		return "", errors.WrapFatal(errors.ErrUnknownFormat, "track", "Save",
			fmt.Sprintf("dispatching %q", format))
	}
	if err != nil {
		return "", errors.WrapTransient(err, "track", "Save", "export write")
	}

	t.logger.Info("track saved", "path", path, "points", len(points))
	return path, nil
}

func writeJSON(path string, points []DataPoint) error {
	if points == nil {
		points = []DataPoint{}
	}
	data, err := json.MarshalIndent(points, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// decodePoints parses the JSON track file format.
func decodePoints(data []byte) ([]DataPoint, error) {
	var points []DataPoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, err
	}
	return points, nil
}

// writeCSV emits one row per point under a header derived from the
// enforced field set, or from the first exported point when fields are
// unenforced.
func (t *Track) writeCSV(path string, points []DataPoint) error {
	if len(points) == 0 {
		return errors.ErrNoDataPoints
	}

	fields := t.fieldNames
	if fields == nil {
		fields = mapKeys(points[0].InputData)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(append([]string{"timestamp"}, fields...)); err != nil {
		return err
	}
	for _, p := range points {
		row := make([]string, 0, len(fields)+1)
		row = append(row, p.Timestamp.Format(time.RFC3339Nano))
		for _, field := range fields {
			row = append(row, formatScalar(p.InputData[field]))
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func formatScalar(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case time.Time:
		return s.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

type gpxDoc struct {
	XMLName xml.Name `xml:"gpx"`
	Version string   `xml:"version,attr"`
	Creator string   `xml:"creator,attr"`
	Xmlns   string   `xml:"xmlns,attr"`
	Track   gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Segment gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Time string  `xml:"time"`
}

// writeGPX emits a GPX 1.1 track segment. Coordinates are taken from the
// first keys ending in "lat" and "lon"/"long"; points missing either are
// skipped.
func writeGPX(path string, points []DataPoint) error {
	doc := gpxDoc{
		Version: "1.1",
		Creator: "mothics",
		Xmlns:   "http://www.topografix.com/GPX/1/1",
	}

	for _, p := range points {
		lat, latOK := coordinate(p.InputData, "lat")
		lon, lonOK := coordinate(p.InputData, "lon", "long")
		if !latOK || !lonOK {
			continue
		}
		doc.Track.Segment.Points = append(doc.Track.Segment.Points, gpxPoint{
			Lat:  lat,
			Lon:  lon,
			Time: p.Timestamp.UTC().Format(time.RFC3339),
		})
	}

	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(xml.Header), data...), 0o644)
}

// coordinate finds the first key with one of the given suffixes holding a
// numeric value. Keys are scanned in sorted order for determinism.
func coordinate(data map[string]any, suffixes ...string) (float64, bool) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, suffix := range suffixes {
			if !strings.HasSuffix(k, suffix) {
				continue
			}
			switch v := data[k].(type) {
			case float64:
				return v, true
			case int:
				return float64(v), true
			}
		}
	}
	return 0, false
}
