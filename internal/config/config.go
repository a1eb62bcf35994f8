// Package config loads the YAML configuration for the tick ingestion engine
// and applies environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the tickstore engine.
type Config struct {
	Database Database `yaml:"database"`
	Feed     Feed     `yaml:"feed"`
	Ingest   Ingest   `yaml:"ingest"`
	Monitor  Monitor  `yaml:"monitor"`
	Logging  Logging  `yaml:"logging"`
}

// Database holds the connection settings for the tick store.
type Database struct {
	URL string `yaml:"url"`
}

// Feed configures access to the vendor's hourly bi5 feed.
type Feed struct {
	BaseURL        string  `yaml:"base_url"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	RequestsPerSec float64 `yaml:"requests_per_sec"`
}

// Ingest controls the concurrent fetch scheduler.
type Ingest struct {
	Concurrency  int `yaml:"concurrency"`    // shared fetch permits
	DayBatchSize int `yaml:"day_batch_size"` // days scheduled per batch
}

// Monitor configures the freshness monitor daemon.
type Monitor struct {
	SummaryURL          string   `yaml:"summary_url"`
	Symbols             []string `yaml:"symbols"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds"`
	CacheTTLSeconds     int      `yaml:"cache_ttl_seconds"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Defaults and accessors
// ---------------------------------------------------------------------------

// DefaultFeedBaseURL is the vendor datafeed root used when the config omits one.
const DefaultFeedBaseURL = "https://datafeed.dukascopy.com/datafeed"

// Timeout returns the feed HTTP timeout as a duration.
func (f Feed) Timeout() time.Duration {
	if f.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// PollInterval returns the monitor poll interval as a duration.
func (m Monitor) PollInterval() time.Duration {
	if m.PollIntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(m.PollIntervalSeconds) * time.Second
}

// CacheTTL returns the freshness summary cache TTL as a duration.
func (m Monitor) CacheTTL() time.Duration {
	if m.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

// applyDefaults fills in zero-valued fields that have sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Feed.BaseURL == "" {
		cfg.Feed.BaseURL = DefaultFeedBaseURL
	}
	if cfg.Feed.RequestsPerSec <= 0 {
		cfg.Feed.RequestsPerSec = 10
	}
	if cfg.Ingest.Concurrency <= 0 {
		cfg.Ingest.Concurrency = 24
	}
	if cfg.Ingest.DayBatchSize <= 0 {
		cfg.Ingest.DayBatchSize = 7
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides and
// defaults.
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

	return cfg, nil
}

// FromEnv builds a configuration from environment variables and defaults
// alone, for deployments that run without a config file.
func FromEnv() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// Validate reports configuration errors that must fail fast before any
// network or storage activity.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (or set DATABASE_URL)")
	}
	return nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("FEED_BASE_URL"); v != "" {
		cfg.Feed.BaseURL = v
	}
	if v := os.Getenv("MONITOR_SUMMARY_URL"); v != "" {
		cfg.Monitor.SummaryURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
