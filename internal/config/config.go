// Package config loads berrysim settings: built-in defaults, then an
// optional YAML file, then BERRYSIM_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/berrysim/internal/engine"
	"github.com/talgya/berrysim/internal/fit"
)

// Config is the full berrysim configuration.
type Config struct {
	// Seed for every random draw. 0 picks a fresh seed per process.
	Seed uint64 `json:"seed" yaml:"seed"`

	// Dataset is the observed CSV to fit against.
	Dataset string `json:"dataset" yaml:"dataset"`

	// Database is the SQLite file storing fit runs. Empty disables storage.
	Database string `json:"database" yaml:"database"`

	Harvest HarvestConfig `json:"harvest" yaml:"harvest"`

	// InitialBlue seeds the day-0 blue count, which is never observed.
	InitialBlue int `json:"initial_blue" yaml:"initial_blue"`

	// RandomInitialAge draws a Poisson starting age for the day-0 population.
	RandomInitialAge bool `json:"random_initial_age" yaml:"random_initial_age"`

	Fit FitConfig `json:"fit" yaml:"fit"`

	API APIConfig `json:"api" yaml:"api"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// HarvestConfig controls weekly picking of blue berries.
type HarvestConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Weekday string `json:"weekday" yaml:"weekday"`
}

// FitConfig controls the optimizer.
type FitConfig struct {
	Samples        int       `json:"samples" yaml:"samples"`
	Workers        int       `json:"workers" yaml:"workers"`
	MaxEvaluations int       `json:"max_evaluations" yaml:"max_evaluations"`
	Restarts       int       `json:"restarts" yaml:"restarts"`
	Lambda         float64   `json:"lambda" yaml:"lambda"`
	Start          []float64 `json:"start,omitempty" yaml:"start,omitempty"`
}

// APIConfig controls the HTTP server.
type APIConfig struct {
	Port      int `json:"port" yaml:"port"`
	RateLimit int `json:"rate_limit" yaml:"rate_limit"` // Compute requests per IP per minute
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Seed:     0,
		Database: "berrysim.db",
		Harvest: HarvestConfig{
			Enabled: true,
			Weekday: "friday",
		},
		Fit: FitConfig{
			Samples:        fit.DefaultSamples,
			Workers:        0,
			MaxEvaluations: 2000,
			Restarts:       1,
			Lambda:         1,
		},
		API: APIConfig{
			Port:      8080,
			RateLimit: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds the configuration from defaults, the file at path if path is
// non-empty, and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML config on top of the defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Dataset = os.ExpandEnv(cfg.Dataset)
	cfg.Database = os.ExpandEnv(cfg.Database)
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := engine.ParseWeekday(c.Harvest.Weekday); err != nil {
		return fmt.Errorf("harvest.weekday: %w", err)
	}
	if c.InitialBlue < 0 {
		return fmt.Errorf("initial_blue must be non-negative, got %d", c.InitialBlue)
	}
	if c.Fit.Samples < 0 {
		return fmt.Errorf("fit.samples must be non-negative, got %d", c.Fit.Samples)
	}
	if c.Fit.Workers < 0 {
		return fmt.Errorf("fit.workers must be non-negative, got %d", c.Fit.Workers)
	}
	if c.Fit.MaxEvaluations < 0 {
		return fmt.Errorf("fit.max_evaluations must be non-negative, got %d", c.Fit.MaxEvaluations)
	}
	if c.Fit.Restarts < 1 {
		return fmt.Errorf("fit.restarts must be at least 1, got %d", c.Fit.Restarts)
	}
	if c.Fit.Lambda < 0 {
		return fmt.Errorf("fit.lambda must be non-negative, got %f", c.Fit.Lambda)
	}
	if len(c.Fit.Start) != 0 && len(c.Fit.Start) != engine.VectorLen {
		return fmt.Errorf("fit.start: %w: %d given", engine.ErrParamCount, len(c.Fit.Start))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must be non-negative, got %d", c.API.RateLimit)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true, "auto": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (valid: text, json, auto)", c.Logging.Format)
	}
	return nil
}

// StartVector returns the configured start vector, or the default one.
func (c *Config) StartVector() []float64 {
	if len(c.Fit.Start) == engine.VectorLen {
		return append([]float64(nil), c.Fit.Start...)
	}
	return engine.DefaultVector(c.Fit.Lambda)
}

// String renders the configuration as YAML.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("BERRYSIM_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BERRYSIM_SEED: %w", err)
		}
		cfg.Seed = n
	}
	if v := os.Getenv("BERRYSIM_DATASET"); v != "" {
		cfg.Dataset = v
	}
	if v, ok := os.LookupEnv("BERRYSIM_DB"); ok {
		cfg.Database = v
	}
	if v := os.Getenv("BERRYSIM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BERRYSIM_API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BERRYSIM_API_PORT: %w", err)
		}
		cfg.API.Port = n
	}
	return nil
}
