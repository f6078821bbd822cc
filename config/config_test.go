package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Audace-Sailing-Team/mothics/comms"
	"github.com/Audace-Sailing-Team/mothics/errors"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, time.Second, cfg.Aggregator.Interval)
}

func TestLoad(t *testing.T) {
	doc := `{
  "logging": {"level": "debug", "format": "json"},
  "serial": [
    {"name": "mcu", "port": "/dev/ttyUSB0", "baud_rate": 115200, "topics": ["rm1/gps/lat"]}
  ],
  "nats": [
    {"name": "main", "url": "nats://localhost:4222", "topics": ["rm2/wind/speed"]}
  ],
  "preprocess": {
    "unit_conversions": {"rm2/wind/speed": {"scale": 1.943844}},
    "angle_offsets": {"rm1/imu/yaw": 0}
  },
  "track": {"output_dir": "/tmp/mothics-test", "max_datapoints": 5000}
}`
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Serial, 1)
	assert.Equal(t, 115200, cfg.Serial[0].BaudRate)
	require.Len(t, cfg.NATS, 1)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS[0].URL)
	assert.Equal(t, 1.943844, cfg.Preprocess.UnitConversions["rm2/wind/speed"].Scale)
	assert.Equal(t, 5000, cfg.Track.MaxDatapoints)
	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Communicator.MaxValues)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestValidate_BadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "loud"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestValidate_DuplicateInterfaceNames(t *testing.T) {
	cfg := Default()
	cfg.NATS = append(cfg.NATS,
		comms.NATSConfig{Name: "main", URL: "nats://localhost:4222"},
		comms.NATSConfig{Name: "main", URL: "nats://localhost:4222"},
	)
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestValidate_PropagatesInterfaceErrors(t *testing.T) {
	cfg := Default()
	cfg.NATS = append(cfg.NATS, comms.NATSConfig{Name: "main"})
	assert.Error(t, cfg.Validate())
}
