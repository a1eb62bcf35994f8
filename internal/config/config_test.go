package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Create a temporary YAML config file.
	yamlContent := []byte(`
database:
  url: "postgres://postgres@localhost:5432/forex_trading"
feed:
  base_url: "https://feed.example.com/datafeed"
  timeout_seconds: 10
  requests_per_sec: 5
ingest:
  concurrency: 16
  day_batch_size: 3
monitor:
  summary_url: "https://monitor.example.com/latest"
  symbols: ["EURUSD", "USDJPY"]
  poll_interval_seconds: 600
  cache_ttl_seconds: 120
logging:
  level: "debug"
  format: "text"
`)

	tmpFile, err := os.CreateTemp("", "tickstore-config-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	if err := tmpFile.Close(); err != nil {
		t.Fatalf("failed to close temp file: %v", err)
	}

	// Clear any environment overrides that might interfere.
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("FEED_BASE_URL")
	os.Unsetenv("MONITOR_SUMMARY_URL")
	os.Unsetenv("LOG_LEVEL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Database.URL != "postgres://postgres@localhost:5432/forex_trading" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Feed.BaseURL != "https://feed.example.com/datafeed" {
		t.Errorf("Feed.BaseURL = %q", cfg.Feed.BaseURL)
	}
	if cfg.Feed.Timeout() != 10*time.Second {
		t.Errorf("Feed.Timeout() = %v, want 10s", cfg.Feed.Timeout())
	}
	if cfg.Ingest.Concurrency != 16 {
		t.Errorf("Ingest.Concurrency = %d, want 16", cfg.Ingest.Concurrency)
	}
	if cfg.Ingest.DayBatchSize != 3 {
		t.Errorf("Ingest.DayBatchSize = %d, want 3", cfg.Ingest.DayBatchSize)
	}
	if len(cfg.Monitor.Symbols) != 2 || cfg.Monitor.Symbols[0] != "EURUSD" {
		t.Errorf("Monitor.Symbols = %v", cfg.Monitor.Symbols)
	}
	if cfg.Monitor.PollInterval() != 10*time.Minute {
		t.Errorf("Monitor.PollInterval() = %v, want 10m", cfg.Monitor.PollInterval())
	}
	if cfg.Monitor.CacheTTL() != 2*time.Minute {
		t.Errorf("Monitor.CacheTTL() = %v, want 2m", cfg.Monitor.CacheTTL())
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "tickstore-config-empty-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.Write([]byte("{}\n"))
	tmpFile.Close()

	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("FEED_BASE_URL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Feed.BaseURL != DefaultFeedBaseURL {
		t.Errorf("Feed.BaseURL = %q, want default", cfg.Feed.BaseURL)
	}
	if cfg.Ingest.Concurrency != 24 {
		t.Errorf("Ingest.Concurrency = %d, want 24", cfg.Ingest.Concurrency)
	}
	if cfg.Ingest.DayBatchSize != 7 {
		t.Errorf("Ingest.DayBatchSize = %d, want 7", cfg.Ingest.DayBatchSize)
	}
	if cfg.Monitor.PollInterval() != 5*time.Minute {
		t.Errorf("Monitor.PollInterval() = %v, want 5m", cfg.Monitor.PollInterval())
	}

	// An empty config is missing the database URL and must fail validation.
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() = nil, want error for missing database.url")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
database:
  url: "postgres://yaml-host/db"
logging:
  level: "warn"
`)

	tmpFile, err := os.CreateTemp("", "tickstore-config-env-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(yamlContent); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	tmpFile.Close()

	// Set environment overrides.
	os.Setenv("DATABASE_URL", "postgres://env-host/db")
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("DATABASE_URL")

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Database.URL != "postgres://env-host/db" {
		t.Errorf("Database.URL = %q, want env override", cfg.Database.URL)
	}
	// level should remain from YAML since no env override was set.
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q (from YAML)", cfg.Logging.Level, "warn")
	}
}
