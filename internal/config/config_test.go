package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "autotrader.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
alpaca:
  api_key: test-key
  api_secret: test-secret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.BarsPath != "data/stocks.db" {
		t.Errorf("BarsPath = %q, want default", cfg.Storage.BarsPath)
	}
	if cfg.Server.Port != 5001 {
		t.Errorf("Port = %d, want 5001", cfg.Server.Port)
	}
	if cfg.Alpaca.Feed != "iex" {
		t.Errorf("Feed = %q, want iex", cfg.Alpaca.Feed)
	}
	if cfg.Universe.StartYear != 2018 || cfg.Universe.EndYear != 2028 {
		t.Errorf("Universe = %d-%d, want 2018-2028", cfg.Universe.StartYear, cfg.Universe.EndYear)
	}
	if cfg.Backfill.TimeoutSeconds != 5 {
		t.Errorf("TimeoutSeconds = %d, want 5", cfg.Backfill.TimeoutSeconds)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
alpaca:
  api_key: file-key
  api_secret: file-secret
storage:
  bars_path: file.db
`)

	t.Setenv("BARS_DB_PATH", "/tmp/env.db")
	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("APCA_API_SECRET_KEY", "env-secret")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Storage.BarsPath != "/tmp/env.db" {
		t.Errorf("BarsPath = %q, want env override", cfg.Storage.BarsPath)
	}
	if cfg.Alpaca.APIKey != "env-key" || cfg.Alpaca.APISecret != "env-secret" {
		t.Errorf("APCA env vars must win over file values, got key=%q", cfg.Alpaca.APIKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadRejectsBadUniverse(t *testing.T) {
	path := writeConfig(t, `
alpaca:
  api_key: k
  api_secret: s
universe:
  start_year: 2030
  end_year: 2020
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted start_year > end_year")
	}
}

func TestLoadMissingCredentials(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
`)

	// Neutralize any ambient credentials so the test is hermetic.
	t.Setenv("APCA_API_KEY_ID", "")
	t.Setenv("APCA_API_SECRET_KEY", "")
	t.Setenv("ALPACA_API_KEY", "")
	t.Setenv("ALPACA_SECRET", "")

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted empty Alpaca credentials")
	}
}
