package cli

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/pinvault/pinvault/internal/config"
	"github.com/pinvault/pinvault/internal/engine"
	"github.com/pinvault/pinvault/internal/logging"
)

// folderRef is one breadcrumb of the current working folder path.
type folderRef struct {
	id   string
	name string
}

// App wires the vault engine to an interactive terminal session.
type App struct {
	config *config.Config
	vault  *engine.Vault
	reader *bufio.Reader
	out    io.Writer

	// cwd is the folder breadcrumb trail; empty means the vault root.
	cwd []folderRef
}

// NewApp opens the vault engine over the configured directory. The engine's
// kill switch is armed from this point on: pulling the device terminates the
// process without further involvement from the CLI.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	vault, err := engine.Open(ctx, engine.Options{
		Dir:              c.VaultDir,
		Logger:           log,
		PresenceInterval: c.PresenceInterval,
		PresenceDeadline: c.PresenceDeadline,
		IdleLockTimeout:  c.IdleLockTimeout,
		Exit:             os.Exit,
	})
	if err != nil {
		return nil, err
	}

	return &App{
		config: c,
		vault:  vault,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
	}, nil
}

// Run drives the REPL until the user exits or the kill switch fires.
func (a *App) Run(ctx context.Context) {
	defer a.vault.Close()
	a.Root(ctx)
}

func (a *App) isUnlocked() bool {
	st := a.vault.State()
	return st == engine.StateUnlockedReal || st == engine.StateUnlockedDecoy
}

// getStatus renders the prompt status. Both unlock modes render identically;
// the prompt must not reveal whether a decoy session is active.
func (a *App) getStatus() string {
	if !a.isUnlocked() {
		return "locked"
	}
	s := "unlocked /"
	for _, f := range a.cwd {
		s += f.name + "/"
	}
	return s
}

// cwdID returns the id of the current working folder ("" for the root).
func (a *App) cwdID() string {
	if len(a.cwd) == 0 {
		return ""
	}
	return a.cwd[len(a.cwd)-1].id
}
