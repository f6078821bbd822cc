// Package config loads and validates the application configuration: one
// JSON document aggregating the options of every core component.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/Audace-Sailing-Team/mothics/aggregator"
	"github.com/Audace-Sailing-Team/mothics/comms"
	"github.com/Audace-Sailing-Team/mothics/errors"
	"github.com/Audace-Sailing-Team/mothics/registry"
	"github.com/Audace-Sailing-Team/mothics/track"
)

// LoggingConfig controls the structured log output.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// ConversionRule declares one linear unit conversion: value*Scale+Offset,
// written to Dest (or in place when Dest is empty or equals the source).
type ConversionRule struct {
	Dest   string  `json:"dest"`
	Scale  float64 `json:"scale"`
	Offset float64 `json:"offset"`
}

// PreprocessConfig declares the calibration pipeline.
type PreprocessConfig struct {
	UnitConversions map[string]ConversionRule `json:"unit_conversions"`
	AngleOffsets    map[string]float64        `json:"angle_offsets"`
}

// Config is the complete application configuration.
type Config struct {
	Logging      LoggingConfig            `json:"logging"`
	Metrics      MetricsConfig            `json:"metrics"`
	Serial       []comms.SerialConfig     `json:"serial"`
	NATS         []comms.NATSConfig       `json:"nats"`
	Communicator comms.CommunicatorConfig `json:"communicator"`
	Preprocess   PreprocessConfig         `json:"preprocess"`
	Aggregator   aggregator.Config        `json:"aggregator"`
	Track        track.Config             `json:"track"`
	Registry     registry.Config          `json:"registry"`
}

// Default returns the stock configuration: no transports, metrics on the
// default port, data under ./data.
func Default() *Config {
	return &Config{
		Logging:      LoggingConfig{Level: "info", Format: "text"},
		Metrics:      MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Communicator: comms.DefaultCommunicatorConfig(),
		Aggregator:   aggregator.DefaultConfig(),
		Track:        track.DefaultConfig(),
		Registry:     registry.Config{Directory: "data"},
	}
}

// Load reads a JSON configuration file over the defaults and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "file read")
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapFatal(err, "config", "Load", "file decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration for errors.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("log level %q check", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("log format %q check", c.Logging.Format))
	}

	seen := make(map[string]struct{})
	for i := range c.Serial {
		if err := c.Serial[i].Validate(); err != nil {
			return err
		}
		name := "serial_" + c.Serial[i].Name
		if _, dup := seen[name]; dup {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("duplicate interface %q check", name))
		}
		seen[name] = struct{}{}
	}
	for i := range c.NATS {
		if err := c.NATS[i].Validate(); err != nil {
			return err
		}
		name := "nats_" + c.NATS[i].Name
		if _, dup := seen[name]; dup {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("duplicate interface %q check", name))
		}
		seen[name] = struct{}{}
	}

	if err := c.Communicator.Validate(); err != nil {
		return err
	}
	if err := c.Track.Validate(); err != nil {
		return err
	}
	if c.Registry.Directory != "" {
		if err := c.Registry.Validate(); err != nil {
			return err
		}
	}
	return nil
}
