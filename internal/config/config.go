// Package config loads and validates the server configuration from YAML,
// with defaults suitable for a single-binary deployment.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration with YAML support for strings like "5s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TickEngine selects how rollout tick loops are driven.
type TickEngine string

const (
	// EngineInterval runs in-process goroutine loops. Loops are rebuilt
	// from the rollout table at startup.
	EngineInterval TickEngine = "interval"
	// EngineWorkflows runs durable go-workflows instances.
	EngineWorkflows TickEngine = "workflows"
)

// Config is the fleetgate-server configuration.
type Config struct {
	Database struct {
		// Path is the SQLite database file. ":memory:" is accepted for
		// throwaway runs.
		Path string `yaml:"path"`
	} `yaml:"database"`

	Log struct {
		// Level is a zap level: debug, info, warn, error.
		Level string `yaml:"level"`
		// Format is "json" or "console".
		Format string `yaml:"format"`
	} `yaml:"log"`

	Tick struct {
		Engine   TickEngine `yaml:"engine"`
		Interval Duration   `yaml:"interval"`
	} `yaml:"tick"`

	Probe struct {
		// ConnectTimeout bounds the dial and TLS-handshake phases of each
		// health probe. The per-endpoint timeout bounds the probe overall.
		ConnectTimeout Duration `yaml:"connect_timeout"`
	} `yaml:"probe"`

	Jobs struct {
		// PromoteInterval is how often the schedule promoter scans
		// pending rollouts.
		PromoteInterval Duration `yaml:"promote_interval"`
		// SweepInterval is how often the drift detector sweeps the fleet.
		SweepInterval Duration `yaml:"sweep_interval"`
	} `yaml:"jobs"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.Database.Path = "fleetgate.db"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	cfg.Tick.Engine = EngineInterval
	cfg.Tick.Interval = Duration(5 * time.Second)
	cfg.Probe.ConnectTimeout = Duration(5 * time.Second)
	cfg.Jobs.PromoteInterval = Duration(30 * time.Second)
	cfg.Jobs.SweepInterval = Duration(30 * time.Second)
	return cfg
}

// Load reads the YAML file at path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration's bounds.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	switch c.Tick.Engine {
	case EngineInterval, EngineWorkflows:
	default:
		return fmt.Errorf("tick.engine must be interval or workflows, got %q", c.Tick.Engine)
	}
	if c.Tick.Interval <= 0 {
		return fmt.Errorf("tick.interval must be positive")
	}
	if c.Probe.ConnectTimeout <= 0 {
		return fmt.Errorf("probe.connect_timeout must be positive")
	}
	if c.Jobs.PromoteInterval <= 0 {
		return fmt.Errorf("jobs.promote_interval must be positive")
	}
	if c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("jobs.sweep_interval must be positive")
	}
	return nil
}
