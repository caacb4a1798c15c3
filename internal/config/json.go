package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pinvault/pinvault/internal/flagx"
	"github.com/pinvault/pinvault/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify intervals either as
// strings like "200ms" or as integer nanoseconds. After parsing, values
// are copied into the runtime Config (which uses time.Duration).
type JsonConfig struct {
	VaultDir         string         `json:"vault_dir"`
	PresenceInterval timex.Duration `json:"presence_interval"`
	PresenceDeadline timex.Duration `json:"presence_deadline"`
	IdleLockTimeout  timex.Duration `json:"idle_lock_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file.
//
// Lookup order for the JSON file path:
//  1. Command-line flags (-c or -config) via flagx.JsonConfigFlags().
//  2. If empty, no JSON is loaded and the function returns.
//
// Behavior:
//   - Reads and unmarshals the JSON into JsonConfig.
//   - Copies known fields into the provided Config.
//   - Panics on read or unmarshal errors (caller should recover if desired).
//
// Intended usage is: defaults -> parseJson -> parseFlags, where later stages
// override earlier ones.
func parseJson(cfg *Config) {
	// Resolve file path from flags.
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.VaultDir = jc.VaultDir
	cfg.PresenceInterval = time.Duration(jc.PresenceInterval.Duration)
	cfg.PresenceDeadline = time.Duration(jc.PresenceDeadline.Duration)
	cfg.IdleLockTimeout = time.Duration(jc.IdleLockTimeout.Duration)
}
