package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/cryptox"
	"github.com/pinvault/pinvault/internal/dbx"
	"github.com/pinvault/pinvault/internal/models"
	"github.com/pinvault/pinvault/internal/repositories/credentials"
	"github.com/pinvault/pinvault/internal/session"
	"golang.org/x/time/rate"
)

const (
	minPinLen = 4
	maxPinLen = 12
)

// storeCheckValue is sealed under each scope's metadata key at scope
// creation. Opening it on unlock proves the derived metadata key matches the
// one the scope was created with, so a corrupted credential record cannot
// silently expose garbage item names.
var storeCheckValue = []byte("store-check/v1")

func validatePin(pin []byte) error {
	if len(pin) < minPinLen || len(pin) > maxPinLen {
		return common.ErrInvalidPin
	}
	return nil
}

// Initialize creates the credential record for a fresh vault and opens no
// session. The real slot wraps a newly generated master key; the duress slot
// is filled with random values no PIN can satisfy, so its shape is identical
// whether or not a duress PIN is ever set.
func (v *Vault) Initialize(ctx context.Context, pin []byte) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	if _, err := v.creds.Get(ctx); err == nil {
		return fmt.Errorf("vault is already initialized")
	} else if !errors.Is(err, common.ErrNotFound) {
		return err
	}

	params := v.kdf
	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	kek, err := cryptox.DeriveKey(pin, salt, params)
	if err != nil {
		return err
	}
	defer cryptox.Zero(kek)

	master := common.GenerateRandByteArray(cryptox.KeySize)
	defer cryptox.Zero(master)

	masterCT, masterNonce, err := cryptox.SealField(kek, master)
	if err != nil {
		return err
	}

	rec := &models.CredentialRecord{
		RealSalt:        salt,
		RealVerifier:    cryptox.MakeVerifier(kek),
		RealMasterCT:    masterCT,
		RealMasterNonce: masterNonce,

		DuressSalt:        common.GenerateRandByteArray(cryptox.SaltSize),
		DuressVerifier:    common.GenerateRandByteArray(32),
		DuressMasterCT:    common.GenerateRandByteArray(cryptox.KeySize + 16),
		DuressMasterNonce: common.GenerateRandByteArray(cryptox.FieldNonceSize),

		KDF:       params,
		CreatedAt: v.now().UTC(),
	}
	// The record and the scope check value must land together: a record
	// without its check would make the first unlock look like tampering.
	err = dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := credentials.NewSQLiteRepository(tx)
		if err := repo.Save(ctx, rec); err != nil {
			return err
		}
		return initScope(ctx, repo, master)
	})
	if err != nil {
		return err
	}
	v.log.Info(ctx, "vault initialized")
	return nil
}

// initScope seals the check value for the scope derived from master.
func initScope(ctx context.Context, repo credentials.Repository, master []byte) error {
	scope, err := cryptox.ScopeID(master)
	if err != nil {
		return err
	}
	mk, err := cryptox.MetadataKey(master)
	if err != nil {
		return err
	}
	defer cryptox.Zero(mk)

	ct, nonce, err := cryptox.SealField(mk, storeCheckValue)
	if err != nil {
		return err
	}
	return repo.SetCheck(ctx, scope, ct, nonce)
}

// Unlock classifies the PIN and binds a session. Both verifiers are always
// evaluated in constant time, so a wrong PIN, a real PIN, and a duress PIN
// all do the same amount of work and a failure never reveals which slot was
// closest. Any mismatch is the same generic ErrAuthenticationFailed.
func (v *Vault) Unlock(ctx context.Context, pin []byte) (session.Mode, error) {
	if err := validatePin(pin); err != nil {
		return "", err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	v.mu.Lock()
	switch v.state {
	case StateWiping, StateTerminated:
		v.mu.Unlock()
		return "", common.ErrTerminated
	case StateUnlockedReal, StateUnlockedDecoy:
		v.mu.Unlock()
		return "", fmt.Errorf("vault is already unlocked")
	}
	v.mu.Unlock()

	if err := v.limiter.allow(v.now()); err != nil {
		return "", err
	}

	rec, err := v.creds.Get(ctx)
	if errors.Is(err, common.ErrNotFound) {
		return "", fmt.Errorf("vault is not initialized: %w", err)
	}
	if err != nil {
		return "", err
	}

	// The KDF runs for both slots regardless of which one (if any) will
	// match.
	realKEK, err := cryptox.DeriveKey(pin, rec.RealSalt, rec.KDF)
	if err != nil {
		return "", err
	}
	defer cryptox.Zero(realKEK)
	duressKEK, err := cryptox.DeriveKey(pin, rec.DuressSalt, rec.KDF)
	if err != nil {
		return "", err
	}
	defer cryptox.Zero(duressKEK)

	realMatch := cryptox.VerifierMatch(rec.RealVerifier, cryptox.MakeVerifier(realKEK))
	duressMatch := cryptox.VerifierMatch(rec.DuressVerifier, cryptox.MakeVerifier(duressKEK))

	var mode session.Mode
	var master []byte
	switch {
	case realMatch:
		mode = session.ModeReal
		master, err = cryptox.OpenField(realKEK, rec.RealMasterNonce, rec.RealMasterCT)
	case duressMatch:
		mode = session.ModeDecoy
		master, err = cryptox.OpenField(duressKEK, rec.DuressMasterNonce, rec.DuressMasterCT)
	default:
		v.limiter.recordFailure(v.now())
		return "", common.ErrAuthenticationFailed
	}
	if err != nil {
		v.limiter.recordFailure(v.now())
		return "", common.ErrAuthenticationFailed
	}

	scope, err := cryptox.ScopeID(master)
	if err != nil {
		cryptox.Zero(master)
		return "", err
	}
	mk, err := cryptox.MetadataKey(master)
	if err != nil {
		cryptox.Zero(master)
		return "", err
	}
	defer cryptox.Zero(mk)

	if err := v.verifyScope(ctx, scope, mk); err != nil {
		cryptox.Zero(master)
		return "", err
	}
	v.sweepTombstones(ctx, scope)

	v.limiter.recordSuccess()
	sess := session.New(mode, scope, master, v.now())

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != StateLocked {
		sess.Destroy()
		return "", fmt.Errorf("vault state changed during unlock")
	}
	v.sess = sess
	if mode == session.ModeReal {
		v.state = StateUnlockedReal
	} else {
		v.state = StateUnlockedDecoy
	}
	v.touchLocked()
	v.log.Info(ctx, "vault unlocked")
	return mode, nil
}

// verifyScope opens the scope's check value under the metadata key. Every
// scope gets its check written transactionally at creation, so a missing
// row means the store was altered out of band. That and an unopenable check
// both mean tampering or corruption, never something to repair silently.
func (v *Vault) verifyScope(ctx context.Context, scope string, mk []byte) error {
	ct, nonce, err := v.creds.GetCheck(ctx, scope)
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("%w: store check missing", common.ErrIntegrityViolation)
	}
	if err != nil {
		return err
	}
	val, err := cryptox.OpenField(mk, nonce, ct)
	if err != nil {
		return err
	}
	if !bytes.Equal(val, storeCheckValue) {
		return fmt.Errorf("%w: store check mismatch", common.ErrIntegrityViolation)
	}
	return nil
}

// sweepTombstones finishes deletions interrupted by a crash or device pull:
// wipe the payload, then drop the row. Failures are logged and retried on
// the next unlock.
func (v *Vault) sweepTombstones(ctx context.Context, scope string) {
	deleted, err := v.items.ListDeleted(ctx, scope)
	if err != nil {
		v.log.Warn(ctx, "tombstone sweep failed", "error", err)
		return
	}
	for _, it := range deleted {
		if it.BlobRef != "" {
			if err := v.blobs.Wipe(ctx, it.BlobRef); err != nil {
				v.log.Warn(ctx, "tombstone wipe failed", "id", it.ID, "error", err)
				continue
			}
		}
		if err := v.items.Delete(ctx, scope, it.ID); err != nil {
			v.log.Warn(ctx, "tombstone delete failed", "id", it.ID, "error", err)
		}
	}
}

// SetDuressPin installs or replaces the duress PIN. Only a real session may
// do this; in any other state the operation fails generically.
func (v *Vault) SetDuressPin(ctx context.Context, pin []byte) error {
	if err := validatePin(pin); err != nil {
		return err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	if st := v.State(); st != StateUnlockedReal {
		if st == StateLocked {
			return common.ErrLocked
		}
		return common.ErrAuthenticationFailed
	}

	rec, err := v.creds.Get(ctx)
	if err != nil {
		return err
	}

	// Refuse a duress PIN that also satisfies the real slot; the real match
	// wins during classification, so such a PIN would never open the decoy.
	realKEK, err := cryptox.DeriveKey(pin, rec.RealSalt, rec.KDF)
	if err != nil {
		return err
	}
	sameAsReal := cryptox.VerifierMatch(rec.RealVerifier, cryptox.MakeVerifier(realKEK))
	cryptox.Zero(realKEK)
	if sameAsReal {
		return common.ErrInvalidPin
	}

	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	kek, err := cryptox.DeriveKey(pin, salt, rec.KDF)
	if err != nil {
		return err
	}
	defer cryptox.Zero(kek)

	master := common.GenerateRandByteArray(cryptox.KeySize)
	defer cryptox.Zero(master)
	masterCT, masterNonce, err := cryptox.SealField(kek, master)
	if err != nil {
		return err
	}

	rec.DuressSalt = salt
	rec.DuressVerifier = cryptox.MakeVerifier(kek)
	rec.DuressMasterCT = masterCT
	rec.DuressMasterNonce = masterNonce

	// Seed the decoy scope in the same transaction so the first duress
	// unlock behaves exactly like any later one.
	err = dbx.WithTx(ctx, v.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := credentials.NewSQLiteRepository(tx)
		if err := repo.Save(ctx, rec); err != nil {
			return err
		}
		return initScope(ctx, repo, master)
	})
	if err != nil {
		return err
	}
	v.log.Info(ctx, "credential record updated")
	return nil
}

// ChangePin re-wraps the real master key under a key derived from the new
// PIN. Item data is untouched: only the credential record changes.
func (v *Vault) ChangePin(ctx context.Context, oldPin, newPin []byte) error {
	if err := validatePin(newPin); err != nil {
		return err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	if st := v.State(); st != StateUnlockedReal {
		if st == StateLocked {
			return common.ErrLocked
		}
		return common.ErrAuthenticationFailed
	}

	rec, err := v.creds.Get(ctx)
	if err != nil {
		return err
	}

	oldKEK, err := cryptox.DeriveKey(oldPin, rec.RealSalt, rec.KDF)
	if err != nil {
		return err
	}
	defer cryptox.Zero(oldKEK)
	if !cryptox.VerifierMatch(rec.RealVerifier, cryptox.MakeVerifier(oldKEK)) {
		return common.ErrAuthenticationFailed
	}

	// The new PIN must not collide with the duress slot, or the duress
	// vault would become unreachable behind the real match.
	duressKEK, err := cryptox.DeriveKey(newPin, rec.DuressSalt, rec.KDF)
	if err != nil {
		return err
	}
	collides := cryptox.VerifierMatch(rec.DuressVerifier, cryptox.MakeVerifier(duressKEK))
	cryptox.Zero(duressKEK)
	if collides {
		return common.ErrInvalidPin
	}

	master, err := cryptox.OpenField(oldKEK, rec.RealMasterNonce, rec.RealMasterCT)
	if err != nil {
		return common.ErrAuthenticationFailed
	}
	defer cryptox.Zero(master)

	salt := common.GenerateRandByteArray(cryptox.SaltSize)
	newKEK, err := cryptox.DeriveKey(newPin, salt, rec.KDF)
	if err != nil {
		return err
	}
	defer cryptox.Zero(newKEK)

	masterCT, masterNonce, err := cryptox.SealField(newKEK, master)
	if err != nil {
		return err
	}

	rec.RealSalt = salt
	rec.RealVerifier = cryptox.MakeVerifier(newKEK)
	rec.RealMasterCT = masterCT
	rec.RealMasterNonce = masterNonce
	if err := v.creds.Save(ctx, rec); err != nil {
		return err
	}
	v.log.Info(ctx, "credential record updated")
	return nil
}

// Reset destroys the whole vault: every blob is securely wiped, then the
// item trees (real and decoy alike), the store checks, and the credential
// record are dropped. Only a real session may reset. The vault ends up
// Locked and uninitialized; the lost PINs are unrecoverable afterwards.
func (v *Vault) Reset(ctx context.Context) error {
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	if st := v.State(); st != StateUnlockedReal {
		if st == StateLocked {
			return common.ErrLocked
		}
		return common.ErrAuthenticationFailed
	}
	if err := v.Lock(); err != nil {
		return err
	}

	refs, err := v.blobs.Refs()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := v.blobs.Wipe(ctx, ref); err != nil {
			return err
		}
	}
	if err := v.items.PurgeAll(ctx); err != nil {
		return err
	}
	if err := v.creds.Purge(ctx); err != nil {
		return err
	}
	v.log.Info(ctx, "vault reset")
	return nil
}

// unlockLimiter bounds wrong-PIN attempts: a steady token bucket plus an
// exponential hold-off once failures accumulate.
type unlockLimiter struct {
	mu        sync.Mutex
	bucket    *rate.Limiter
	failures  int
	notBefore time.Time
}

const (
	limiterRefill   = 2 * time.Second
	limiterBurst    = 5
	backoffAfter    = 3
	maxBackoffDelay = 5 * time.Minute
)

func newUnlockLimiter() *unlockLimiter {
	return &unlockLimiter{
		bucket: rate.NewLimiter(rate.Every(limiterRefill), limiterBurst),
	}
}

func (l *unlockLimiter) allow(now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Before(l.notBefore) {
		return common.ErrRateLimited
	}
	if !l.bucket.AllowN(now, 1) {
		return common.ErrRateLimited
	}
	return nil
}

func (l *unlockLimiter) recordFailure(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures++
	if l.failures >= backoffAfter {
		delay := time.Duration(1<<uint(l.failures-backoffAfter)) * time.Second
		if delay > maxBackoffDelay {
			delay = maxBackoffDelay
		}
		l.notBefore = now.Add(delay)
	}
}

func (l *unlockLimiter) recordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = 0
	l.notBefore = time.Time{}
}
