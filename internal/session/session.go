// Package session owns the unlocked state of a vault: the mode, the scope
// id, and the master key. The key lives in a memguard enclave, so it is
// encrypted while at rest in process memory and wiped when the session is
// destroyed. There is at most one live Session per vault instance; the
// engine enforces that.
package session

import (
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/pinvault/pinvault/internal/common"
)

// Mode selects which logical vault a session exposes.
type Mode string

const (
	ModeReal  Mode = "real"
	ModeDecoy Mode = "decoy"
)

// Session binds an unlocked mode to its master key and scope. It is created
// by the engine on successful PIN verification and never persisted.
type Session struct {
	mode       Mode
	scope      string
	unlockTime time.Time

	mu        sync.Mutex
	enclave   *memguard.Enclave
	destroyed bool
}

// New creates a session taking ownership of masterKey: the slice is wiped
// by the enclave as part of construction and must not be used afterwards.
func New(mode Mode, scope string, masterKey []byte, unlockTime time.Time) *Session {
	return &Session{
		mode:       mode,
		scope:      scope,
		unlockTime: unlockTime,
		enclave:    memguard.NewEnclave(masterKey),
	}
}

func (s *Session) Mode() Mode            { return s.mode }
func (s *Session) Scope() string         { return s.scope }
func (s *Session) UnlockTime() time.Time { return s.unlockTime }

// WithKey decrypts the master key into a locked buffer, runs fn over it,
// and destroys the buffer on every exit path. fn must not retain the slice.
func (s *Session) WithKey(fn func(masterKey []byte) error) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return common.ErrLocked
	}
	enclave := s.enclave
	s.mu.Unlock()

	buf, err := enclave.Open()
	if err != nil {
		return common.ErrLocked
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// Destroy wipes the master key. Idempotent; safe to call from the lock
// path, the kill switch, and process shutdown concurrently.
func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	s.destroyed = true
	s.enclave = nil
}

// Destroyed reports whether the master key has been wiped.
func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}
