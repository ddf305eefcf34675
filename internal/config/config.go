// Package config loads the engine configuration from a YAML file and
// fills in defaults for anything unspecified.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vendops/vendwatch/internal/feed"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5s" or "250ms". yaml.v3 has no native duration support.
type Duration time.Duration

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Config is the full engine configuration.
type Config struct {
	// Feeds points at the read-only source databases.
	Feeds feed.Paths `yaml:"feeds"`

	// StateDB is the path of the engine's own SQLite database.
	StateDB string `yaml:"state_db"`

	// HistoryDays is the observed lookback included in script contexts.
	HistoryDays int `yaml:"history_days"`

	// ForecastDays is the predicted lookahead included in script contexts.
	ForecastDays int `yaml:"forecast_days"`

	// CooldownDays is the dedup cooldown: an unchanged alert condition is
	// suppressed for this many simulated days after its last emission.
	CooldownDays int `yaml:"cooldown_days"`

	// ScriptTimeout bounds a single script execution against one machine
	// context.
	ScriptTimeout Duration `yaml:"script_timeout"`

	// MachineConcurrency bounds how many machine contexts are built and
	// evaluated in parallel. Alert writes stay on a single writer
	// regardless.
	MachineConcurrency int `yaml:"machine_concurrency"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Feeds: feed.Paths{
			FactsDB:    "data/facts.db",
			ObservedDB: "data/observed.db",
			AnalysisDB: "data/analysis.db",
		},
		StateDB:            "data/vendwatch.db",
		HistoryDays:        28,
		ForecastDays:       7,
		CooldownDays:       3,
		ScriptTimeout:      Duration(5 * time.Second),
		MachineConcurrency: 4,
		LogLevel:           "info",
	}
}

// Load reads the YAML file at path, layered over Default. An empty path
// returns Default unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.HistoryDays <= 0 {
		return fmt.Errorf("history_days must be positive, got %d", c.HistoryDays)
	}
	if c.ForecastDays < 0 {
		return fmt.Errorf("forecast_days must not be negative, got %d", c.ForecastDays)
	}
	if c.CooldownDays < 0 {
		return fmt.Errorf("cooldown_days must not be negative, got %d", c.CooldownDays)
	}
	if c.ScriptTimeout <= 0 {
		return fmt.Errorf("script_timeout must be positive, got %s", c.ScriptTimeout)
	}
	if c.MachineConcurrency <= 0 {
		return fmt.Errorf("machine_concurrency must be positive, got %d", c.MachineConcurrency)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}
