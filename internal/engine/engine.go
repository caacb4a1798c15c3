// Package engine is the vault security core: it owns the mode state
// machine, the single active session, and the external operation surface.
// Every other component (metadata store, blob store, secure delete, viewer,
// presence monitor) is driven from here, so no code path can reach the real
// item tree while a decoy session is active.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/pressly/goose/v3"
	"github.com/pinvault/pinvault/internal/blobstore"
	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/cryptox"
	"github.com/pinvault/pinvault/internal/filex"
	"github.com/pinvault/pinvault/internal/logging"
	"github.com/pinvault/pinvault/internal/memx"
	"github.com/pinvault/pinvault/internal/migrations"
	"github.com/pinvault/pinvault/internal/presence"
	"github.com/pinvault/pinvault/internal/repositories/credentials"
	"github.com/pinvault/pinvault/internal/repositories/items"
	"github.com/pinvault/pinvault/internal/session"
	"github.com/pinvault/pinvault/internal/viewer"

	_ "modernc.org/sqlite"
)

// State is the mode controller's state.
type State int

const (
	StateLocked State = iota
	StateUnlockedReal
	StateUnlockedDecoy
	StateWiping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateLocked:
		return "locked"
	case StateUnlockedReal:
		return "unlocked-real"
	case StateUnlockedDecoy:
		return "unlocked-decoy"
	case StateWiping:
		return "wiping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Options configure a vault instance.
type Options struct {
	// Dir is the vault directory on the removable device.
	Dir string

	// Logger is required.
	Logger logging.Logger

	// PresenceInterval/PresenceDeadline tune the storage watcher; zero
	// values use the presence package defaults. DisablePresence turns the
	// watcher off entirely (tests).
	PresenceInterval time.Duration
	PresenceDeadline time.Duration
	DisablePresence  bool

	// IdleLockTimeout locks an unlocked session after inactivity.
	// Zero disables the idle watcher.
	IdleLockTimeout time.Duration

	// KDF overrides the cost parameters used when the vault is created.
	// Zero value uses cryptox.DefaultKDFParams. Existing vaults always use
	// the costs stored in their credential record.
	KDF cryptox.KDFParams

	// Exit terminates the process after kill-switch teardown.
	// Defaults to os.Exit in the binary; tests inject a recorder.
	Exit func(code int)
}

// Vault is a single running instance over one vault directory.
type Vault struct {
	dir   string
	db    *sql.DB
	creds credentials.Repository
	items items.Repository
	blobs *blobstore.Store
	log   logging.Logger

	mu           sync.Mutex
	state        State
	sess         *session.Session
	lastActivity time.Time

	views    *viewer.Registry
	limiter  *unlockLimiter
	kdf      cryptox.KDFParams
	killCh   chan struct{}
	tearOnce sync.Once

	runCtx    context.Context
	runCancel context.CancelFunc

	exit func(int)
	now  func() time.Time
}

// Open prepares the vault directory, opens the metadata database, runs
// migrations, and starts the presence watcher. The vault starts Locked.
func Open(ctx context.Context, opts Options) (*Vault, error) {
	dir, err := filex.EnsureDir(opts.Dir)
	if err != nil {
		return nil, err
	}
	blobs, err := blobstore.New(filepath.Join(dir, "blobs"))
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "vault.db"))
	if err != nil {
		return nil, fmt.Errorf("open vault db: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	level, err := memx.Lock()
	if err != nil {
		opts.Logger.Warn(ctx, "memory locking unavailable", "error", err)
	} else if level != memx.ProtectionFull {
		opts.Logger.Warn(ctx, "partial memory protection", "level", level)
	}

	exit := opts.Exit
	if exit == nil {
		exit = os.Exit
	}
	kdf := opts.KDF
	if kdf == (cryptox.KDFParams{}) {
		kdf = cryptox.DefaultKDFParams()
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	v := &Vault{
		dir:       dir,
		db:        db,
		creds:     credentials.NewSQLiteRepository(db),
		items:     items.NewSQLiteRepository(db),
		blobs:     blobs,
		log:       opts.Logger,
		state:     StateLocked,
		views:     viewer.NewRegistry(),
		limiter:   newUnlockLimiter(),
		kdf:       kdf,
		killCh:    make(chan struct{}),
		runCtx:    runCtx,
		runCancel: runCancel,
		exit:      exit,
		now:       time.Now,
	}

	if !opts.DisablePresence {
		mon := presence.NewMonitor(presence.DirProbe(dir),
			opts.PresenceInterval, opts.PresenceDeadline, v.Teardown, opts.Logger)
		go mon.Run(runCtx)
	}
	if opts.IdleLockTimeout > 0 {
		go v.idleWatcher(runCtx, opts.IdleLockTimeout)
	}
	return v, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// State returns the controller state.
func (v *Vault) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Mode returns the active session mode, or an error when locked.
func (v *Vault) Mode() (session.Mode, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sess == nil {
		return "", common.ErrLocked
	}
	return v.sess.Mode(), nil
}

// KillSwitch returns a channel closed when kill-switch teardown runs; the
// host application subscribes for UI teardown.
func (v *Vault) KillSwitch() <-chan struct{} {
	return v.killCh
}

// Lock zeroes the session master key, closes open viewers, and returns the
// controller to Locked. No-op when already locked; an error in terminal
// states.
func (v *Vault) Lock() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lockLocked()
}

func (v *Vault) lockLocked() error {
	switch v.state {
	case StateWiping, StateTerminated:
		return common.ErrTerminated
	case StateLocked:
		return nil
	}
	v.views.CloseAll()
	if v.sess != nil {
		v.sess.Destroy()
		v.sess = nil
	}
	v.state = StateLocked
	v.log.Info(context.Background(), "vault locked")
	return nil
}

// Teardown is the kill switch: it wipes all key material, closes every
// viewer, cancels in-flight operations, closes the database, and calls the
// configured exit function. Idempotent: the presence monitor and explicit
// user action may both trigger it without double-frees. Wiping and
// Terminated are terminal for this process instance.
func (v *Vault) Teardown() {
	v.tearOnce.Do(func() {
		v.mu.Lock()
		v.state = StateWiping
		v.mu.Unlock()

		// Cancel in-flight operations first so nothing touches key
		// material while it is being wiped.
		v.runCancel()
		close(v.killCh)

		v.views.CloseAll()

		v.mu.Lock()
		if v.sess != nil {
			v.sess.Destroy()
			v.sess = nil
		}
		v.mu.Unlock()

		// Wipe memguard's session key and every live enclave buffer.
		memguard.Purge()

		_ = v.db.Close()

		v.mu.Lock()
		v.state = StateTerminated
		v.mu.Unlock()

		v.exit(0)
	})
}

// Close shuts the instance down without the kill-switch semantics: used on
// ordinary process exit. Locks first so the master key is wiped.
func (v *Vault) Close() error {
	_ = v.Lock()
	v.runCancel()
	return v.db.Close()
}

func (v *Vault) idleWatcher(ctx context.Context, timeout time.Duration) {
	poll := timeout / 4
	if poll > time.Second {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v.mu.Lock()
			idle := v.state == StateUnlockedReal || v.state == StateUnlockedDecoy
			idle = idle && v.now().Sub(v.lastActivity) > timeout
			if idle {
				v.log.Info(ctx, "idle timeout, locking")
				_ = v.lockLocked()
			}
			v.mu.Unlock()
		}
	}
}

// touch records user activity for the idle watcher. Callers hold v.mu.
func (v *Vault) touchLocked() {
	v.lastActivity = v.now()
}

// activeSession returns the live session and its scope, or ErrLocked.
func (v *Vault) activeSession() (*session.Session, string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.state {
	case StateWiping, StateTerminated:
		return nil, "", common.ErrTerminated
	case StateLocked:
		return nil, "", common.ErrLocked
	}
	if v.sess == nil {
		return nil, "", common.ErrLocked
	}
	v.touchLocked()
	return v.sess, v.sess.Scope(), nil
}

// opCtx ties an operation to the instance lifetime so kill-switch teardown
// cancels it.
func (v *Vault) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return mergeCancel(ctx, v.runCtx)
}

// mergeCancel returns a context canceled when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() { stop(); cancel() }
}
