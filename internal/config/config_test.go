package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "caracal.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadEmptyPathReturnsRunnableDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.ClockSkew != 30*time.Second {
		t.Fatalf("expected default clock skew 30s, got %v", cfg.Gateway.ClockSkew)
	}
	if cfg.Ledger.SealSizeThreshold != 1000 {
		t.Fatalf("expected default seal size threshold 1000, got %d", cfg.Ledger.SealSizeThreshold)
	}
	if cfg.Identity.Store.Driver != "sqlite" {
		t.Fatalf("expected default identity store driver sqlite, got %q", cfg.Identity.Store.Driver)
	}
}

func TestLoadGatewayClockSkewOverride(t *testing.T) {
	path := writeConfig(t, "gateway:\n  clockSkew: 45s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Gateway.ClockSkew != 45*time.Second {
		t.Fatalf("expected overridden clock skew 45s, got %v", cfg.Gateway.ClockSkew)
	}
	// replayWindow was not set in the document, so it must still default.
	if cfg.Gateway.ReplayWindow != 5*time.Minute {
		t.Fatalf("expected default replay window 5m, got %v", cfg.Gateway.ReplayWindow)
	}
}

func TestLoadLedgerSealThresholdsOverride(t *testing.T) {
	path := writeConfig(t, "ledger:\n  sealSizeThreshold: 500\n  sealTimeThreshold: 1m\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Ledger.SealSizeThreshold != 500 {
		t.Fatalf("expected seal size threshold 500, got %d", cfg.Ledger.SealSizeThreshold)
	}
	if cfg.Ledger.SealTimeThreshold != time.Minute {
		t.Fatalf("expected seal time threshold 1m, got %v", cfg.Ledger.SealTimeThreshold)
	}
}

func TestLoadStoreDriverOverride(t *testing.T) {
	path := writeConfig(t, "ledger:\n  store:\n    driver: postgres\n    dsn: postgres://caracal@localhost/caracal\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Ledger.Store.Driver != "postgres" {
		t.Fatalf("expected driver postgres, got %q", cfg.Ledger.Store.Driver)
	}
	if cfg.Ledger.Store.DSN != "postgres://caracal@localhost/caracal" {
		t.Fatalf("unexpected dsn: %q", cfg.Ledger.Store.DSN)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error loading a nonexistent config file")
	}
}
