// Package config loads runtime configuration for the vault CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-d string   vault directory on the storage device
//	-i int      presence probe interval (milliseconds)
//	-w int      presence deadline (milliseconds)
//	-l int      idle auto-lock timeout (seconds, 0 disables)
//
// # JSON schema
//
// The JSON loader uses timex.Duration for intervals, so values can be either
// strings like "200ms" or integer nanoseconds:
//
//	{
//	  "vault_dir": "/media/stick/vault",
//	  "presence_interval": "200ms",
//	  "presence_deadline": "750ms",
//	  "idle_lock_timeout": "5m"
//	}
//
// Primary API
//
//   - type Config                     — vault directory and watcher/lock intervals
//   - func LoadConfig() *Config       — builds Config by applying defaults, JSON, then flags
//   - func (*Config) LoadDefaults()   — sets sensible defaults
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
