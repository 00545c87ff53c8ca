package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sqlstream/tds-go/pkg/tds"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
connection:
  host: sql.example.com
  port: 1433
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Pool.MaxConnections != 10 {
		t.Fatalf("Pool.MaxConnections = %d, want 10", cfg.Pool.MaxConnections)
	}
	if cfg.Retry.MaxRetries != 3 {
		t.Fatalf("Retry.MaxRetries = %d, want 3", cfg.Retry.MaxRetries)
	}
	if cfg.Cache.Capacity != 100 {
		t.Fatalf("Cache.Capacity = %d, want 100", cfg.Cache.Capacity)
	}
	if cfg.Connection.EncryptMode() != tds.EncryptModeOn {
		t.Fatalf("expected default encrypt mode On")
	}
}

func TestLoadRejectsMissingHost(t *testing.T) {
	path := writeTempConfig(t, "connection:\n  port: 1433\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for missing host")
	}
}

func TestLoadRejectsMinIdleAboveMax(t *testing.T) {
	path := writeTempConfig(t, `
connection:
  host: sql.example.com
  port: 1433
pool:
  max_connections: 2
  min_idle: 5
`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for min_idle > max_connections")
	}
}
