// Package config loads usagevault configuration from an XDG TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/hildvein/usagevault/internal/pricing"
)

// Config holds all usagevault configuration.
type Config struct {
	General GeneralConfig    `toml:"general"`
	Daemon  DaemonConfig     `toml:"daemon"`
	Sync    SyncConfig       `toml:"sync"`
	Pricing PricingOverrides `toml:"pricing"`
}

// GeneralConfig holds scan source and store locations.
type GeneralConfig struct {
	LogRoot   string `toml:"log_root,omitempty"`
	StorePath string `toml:"store_path,omitempty"`
}

// DaemonConfig holds background service settings.
type DaemonConfig struct {
	Addr            string `toml:"addr,omitempty"`
	IntervalSec     int    `toml:"interval_sec"`
	ScanTimeoutSec  int    `toml:"scan_timeout_sec"`
	WatchFilesystem bool   `toml:"watch_filesystem"`
}

// SyncConfig holds the blob-store transport settings. The blob identifier and
// token are issued externally; usagevault only reads and writes one JSON
// document there.
type SyncConfig struct {
	URL    string `toml:"url,omitempty"`
	BlobID string `toml:"blob_id,omitempty"`
	Token  string `toml:"token,omitempty"`
}

// PricingOverrides allows user-defined rates for model families.
type PricingOverrides struct {
	Overrides map[string]RateOverride `toml:"overrides,omitempty"`
}

// RateOverride holds per-family rate overrides. Unset fields keep the
// built-in value when the family is known, and zero otherwise.
type RateOverride struct {
	InputPerMTok      *float64 `toml:"input_per_mtok,omitempty"`
	OutputPerMTok     *float64 `toml:"output_per_mtok,omitempty"`
	CacheReadPerMTok  *float64 `toml:"cache_read_per_mtok,omitempty"`
	CacheWritePerMTok *float64 `toml:"cache_write_per_mtok,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		General: GeneralConfig{
			LogRoot:   filepath.Join(home, ".claude", "projects"),
			StorePath: defaultStorePath(),
		},
		Daemon: DaemonConfig{
			Addr:            "127.0.0.1:8791",
			IntervalSec:     300,
			ScanTimeoutSec:  120,
			WatchFilesystem: true,
		},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "usagevault")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "usagevault")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

func defaultStorePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "usagevault", "usage.db")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "usagevault", "usage.db")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// PricingTable builds the shared rate table: built-in family tiers with the
// user's overrides applied. Every cost calculation in the process prices
// through this one table so scan, backfill, and live paths stay consistent.
func (c Config) PricingTable() *pricing.Table {
	t := pricing.DefaultTable()
	for family, o := range c.Pricing.Overrides {
		r := t.Lookup(family)
		if o.InputPerMTok != nil {
			r.InputPerMTok = *o.InputPerMTok
		}
		if o.OutputPerMTok != nil {
			r.OutputPerMTok = *o.OutputPerMTok
		}
		if o.CacheReadPerMTok != nil {
			r.CacheReadPerMTok = *o.CacheReadPerMTok
		}
		if o.CacheWritePerMTok != nil {
			r.CacheWritePerMTok = *o.CacheWritePerMTok
		}
		if family == "default" {
			t.SetFallback(r)
			continue
		}
		t.Override(family, r)
	}
	return t
}
