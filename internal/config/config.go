// Package config loads the autotrader YAML configuration and applies
// environment variable overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the autotrader system.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Alpaca   Alpaca         `yaml:"alpaca"`
	Logging  Logging        `yaml:"logging"`
	Universe Universe       `yaml:"universe"`
	Backfill BackfillConfig `yaml:"backfill"`
}

// Storage holds paths for the two SQLite databases.
type Storage struct {
	BarsPath   string `yaml:"bars_path"`
	SystemPath string `yaml:"system_path"`
}

// Server holds the dashboard HTTP listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca broker API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
	Paper     bool   `yaml:"paper"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Universe bounds the minute-timestamp universe built at startup.
type Universe struct {
	StartYear int `yaml:"start_year"`
	EndYear   int `yaml:"end_year"`
}

// BackfillConfig controls the historical fetcher.
type BackfillConfig struct {
	// TimeoutSeconds bounds a single upstream fetch so a backfill can never
	// stall the scheduler past its minute boundary.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// RateLimitPerMin throttles batch backfills.
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations that cannot produce a working system.
func (c *Config) Validate() error {
	if c.Universe.StartYear > c.Universe.EndYear {
		return fmt.Errorf("universe start_year %d after end_year %d", c.Universe.StartYear, c.Universe.EndYear)
	}
	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		return fmt.Errorf("missing Alpaca credentials (set alpaca.api_key/api_secret or APCA_API_KEY_ID/APCA_API_SECRET_KEY)")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.BarsPath == "" {
		cfg.Storage.BarsPath = "data/stocks.db"
	}
	if cfg.Storage.SystemPath == "" {
		cfg.Storage.SystemPath = "data/system.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5001
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Universe.StartYear == 0 {
		cfg.Universe.StartYear = 2018
	}
	if cfg.Universe.EndYear == 0 {
		cfg.Universe.EndYear = 2028
	}
	if cfg.Backfill.TimeoutSeconds == 0 {
		cfg.Backfill.TimeoutSeconds = 5
	}
	if cfg.Backfill.RateLimitPerMin == 0 {
		cfg.Backfill.RateLimitPerMin = 180
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BARS_DB_PATH"); v != "" {
		cfg.Storage.BarsPath = v
	}
	if v := os.Getenv("SYSTEM_DB_PATH"); v != "" {
		cfg.Storage.SystemPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
