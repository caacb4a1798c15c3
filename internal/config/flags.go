package config

import (
	"flag"
	"os"
	"time"

	"github.com/pinvault/pinvault/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   vault directory on the storage device (default from Config)
//	-i int      storage presence probe interval in milliseconds
//	-w int      storage presence deadline in milliseconds
//	-l int      idle auto-lock timeout in seconds, 0 to disable
//
// Note: The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	// Filter args to include only those handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-i", "-w", "-l"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.VaultDir, "d", cfg.VaultDir, "vault directory")
	probeInterval := fs.Int("i", int(cfg.PresenceInterval.Milliseconds()), "presence probe interval (in milliseconds)")
	probeDeadline := fs.Int("w", int(cfg.PresenceDeadline.Milliseconds()), "presence deadline (in milliseconds)")
	idleLock := fs.Int("l", int(cfg.IdleLockTimeout.Seconds()), "idle auto-lock timeout (in seconds, 0 disables)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PresenceInterval = time.Duration(*probeInterval) * time.Millisecond
	cfg.PresenceDeadline = time.Duration(*probeDeadline) * time.Millisecond
	cfg.IdleLockTimeout = time.Duration(*idleLock) * time.Second
}
