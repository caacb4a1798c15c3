package config

import (
	"time"

	"github.com/pinvault/pinvault/internal/presence"
)

// Config holds runtime settings for the vault CLI.
//
// Fields:
//   - VaultDir: root of the encrypted store on the removable device.
//   - PresenceInterval: how often the storage watcher probes the device.
//   - PresenceDeadline: how long probes may stay silent before teardown.
//   - IdleLockTimeout: inactivity span after which the session locks; 0 disables.
//
// Units: the intervals are time.Duration values.
type Config struct {
	VaultDir         string
	PresenceInterval time.Duration
	PresenceDeadline time.Duration
	IdleLockTimeout  time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.VaultDir = "./vault"
	c.PresenceInterval = presence.DefaultInterval
	c.PresenceDeadline = presence.DefaultDeadline
	c.IdleLockTimeout = 5 * time.Minute
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
