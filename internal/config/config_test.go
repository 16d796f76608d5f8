package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Daemon.IntervalSec != 300 || cfg.Daemon.Addr != "127.0.0.1:8791" {
		t.Errorf("defaults not applied: %+v", cfg.Daemon)
	}
	if cfg.General.LogRoot == "" || cfg.General.StorePath == "" {
		t.Errorf("default paths empty: %+v", cfg.General)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.General.LogRoot = "/tmp/logs"
	cfg.Sync.URL = "https://blobs.example.com"
	cfg.Sync.BlobID = "team-xyz"
	cfg.Daemon.IntervalSec = 60

	if err := Save(cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.General.LogRoot != "/tmp/logs" || got.Sync.BlobID != "team-xyz" || got.Daemon.IntervalSec != 60 {
		t.Errorf("round trip lost data: %+v", got)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	if err := os.MkdirAll(filepath.Join(dir, "usagevault"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "usagevault", "config.toml"),
		[]byte("this = [is not\nvalid toml"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPricingTableOverrides(t *testing.T) {
	in := 42.0
	cw := 1.0
	cfg := Config{Pricing: PricingOverrides{Overrides: map[string]RateOverride{
		"opus":    {InputPerMTok: &in},
		"default": {CacheWritePerMTok: &cw},
	}}}

	tbl := cfg.PricingTable()

	opus := tbl.Lookup("claude-opus-x")
	if opus.InputPerMTok != 42 {
		t.Errorf("opus input = %v, want override 42", opus.InputPerMTok)
	}
	// Unset fields keep the built-in value.
	if opus.OutputPerMTok != 75 {
		t.Errorf("opus output = %v, want built-in 75", opus.OutputPerMTok)
	}

	fallback := tbl.Lookup("unknown-model")
	if fallback.CacheWritePerMTok != 1 {
		t.Errorf("fallback cache write = %v, want override 1", fallback.CacheWritePerMTok)
	}
}
