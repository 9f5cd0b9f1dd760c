package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address() != "0.0.0.0:8080" {
		t.Fatalf("unexpected address: %s", cfg.Server.Address())
	}
	if cfg.Staking.Interval != 86_400 {
		t.Fatalf("unexpected staking interval: %d", cfg.Staking.Interval)
	}
	if !cfg.Market.Enabled {
		t.Fatal("market must default to enabled")
	}
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9000
gateway:
  poll_interval: 2s
market:
  owner: file-owner
  royalty_ceiling_ppm: 100000
  royalties:
    - address: file-owner
      rate_ppm: 25000
  enabled: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MARKET_OWNER", "env-owner")
	t.Setenv("SERVER_PORT", "9100")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Fatalf("env override lost: port %d", cfg.Server.Port)
	}
	if cfg.Market.Owner != "env-owner" {
		t.Fatalf("env override lost: owner %s", cfg.Market.Owner)
	}
	if len(cfg.Market.Royalties) != 1 || cfg.Market.Royalties[0].RatePPM != 25_000 {
		t.Fatalf("file royalties lost: %+v", cfg.Market.Royalties)
	}
	if cfg.Gateway.PollInterval.Std() != 2*time.Second {
		t.Fatalf("duration parsing lost: %v", cfg.Gateway.PollInterval.Std())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected missing file to fail")
	}
}
