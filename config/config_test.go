package config

import (
	"os"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalConfig = `gateway:
  name: "TestGateway"
  version: "1.0"
feed:
  driver: sim
  instruments: ["EUR/USD", "GBP/USD"]
  periods: ["ONE_MIN"]
kline:
  storage_limit: 5
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalConfig)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Gateway.Name != "TestGateway" {
		t.Errorf("unexpected name: %s", cfg.Gateway.Name)
	}
	if cfg.KLine.StorageLimit != 5 {
		t.Errorf("unexpected storage limit: %d", cfg.KLine.StorageLimit)
	}
	if cfg.Feed.RetryBudget != 3 {
		t.Errorf("default retry budget not applied: %d", cfg.Feed.RetryBudget)
	}
	if cfg.Backfill.PollInterval != 200*time.Millisecond {
		t.Errorf("default poll interval not applied: %v", cfg.Backfill.PollInterval)
	}
}

func TestLoadConfigEnvExpansion(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("REDIS_ADDR", "")

	path := writeTempConfig(t, minimalConfig+`redis:
  addr: "${TEST_REDIS_ADDR}"
`)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("env expansion failed: %s", cfg.Redis.Addr)
	}
}

func TestLoadConfigMissingInstruments(t *testing.T) {
	path := writeTempConfig(t, `gateway:
  name: "TestGateway"
  version: "1.0"
feed:
  driver: sim
  periods: ["ONE_MIN"]
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for empty instruments")
	}
}

func TestLoadConfigWebSocketAddrRequired(t *testing.T) {
	path := writeTempConfig(t, minimalConfig+`websocket:
  enabled: true
`)
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected validation error for missing websocket addr")
	}
}
