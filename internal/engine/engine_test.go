package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/cryptox"
	"github.com/pinvault/pinvault/internal/logging"
	"github.com/pinvault/pinvault/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	realPin   = []byte("314159")
	duressPin = []byte("271828")
	wrongPin  = []byte("000000")
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// testKDF keeps unlocks fast; production costs are exercised in cryptox.
var testKDF = cryptox.KDFParams{Memory: 8 * 1024, Time: 1, Parallelism: 1}

func setupVault(t *testing.T) *Vault {
	t.Helper()
	v, err := Open(context.Background(), Options{
		Dir:             t.TempDir(),
		Logger:          testLogger(),
		DisablePresence: true,
		KDF:             testKDF,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func setupUnlocked(t *testing.T) *Vault {
	t.Helper()
	v := setupVault(t)
	ctx := context.Background()
	require.NoError(t, v.Initialize(ctx, realPin))
	mode, err := v.Unlock(ctx, realPin)
	require.NoError(t, err)
	require.Equal(t, session.ModeReal, mode)
	return v
}

func TestInitializeAndUnlock(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	require.NoError(t, v.Initialize(ctx, realPin))
	assert.Error(t, v.Initialize(ctx, realPin), "double initialize must fail")

	mode, err := v.Unlock(ctx, realPin)
	require.NoError(t, err)
	assert.Equal(t, session.ModeReal, mode)
	assert.Equal(t, StateUnlockedReal, v.State())

	_, err = v.Unlock(ctx, realPin)
	assert.Error(t, err, "unlock while unlocked must fail")

	require.NoError(t, v.Lock())
	assert.Equal(t, StateLocked, v.State())
	assert.NoError(t, v.Lock(), "lock is idempotent")
}

func TestUnlock_WrongPin_GenericFailure(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	require.NoError(t, v.Initialize(ctx, realPin))

	_, err := v.Unlock(ctx, wrongPin)
	assert.True(t, errors.Is(err, common.ErrAuthenticationFailed))
	assert.Equal(t, StateLocked, v.State())
}

func TestUnlock_PinLengthValidated(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()

	_, err := v.Unlock(ctx, []byte("123"))
	assert.True(t, errors.Is(err, common.ErrInvalidPin))
	_, err = v.Unlock(ctx, []byte("1234567890123"))
	assert.True(t, errors.Is(err, common.ErrInvalidPin))
}

func TestUnlock_Uninitialized(t *testing.T) {
	v := setupVault(t)
	_, err := v.Unlock(context.Background(), realPin)
	assert.Error(t, err)
}

func TestUnlock_MissingStoreCheck_IntegrityViolation(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	require.NoError(t, v.Initialize(ctx, realPin))

	// The check row is written transactionally with the credential record,
	// so it can only vanish through out-of-band modification of the store.
	_, err := v.db.ExecContext(ctx, `DELETE FROM store_checks`)
	require.NoError(t, err)

	_, err = v.Unlock(ctx, realPin)
	assert.True(t, errors.Is(err, common.ErrIntegrityViolation),
		"a vanished store check must fail the unlock, got %v", err)
	assert.Equal(t, StateLocked, v.State())

	var n int
	require.NoError(t, v.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM store_checks`).Scan(&n))
	assert.Equal(t, 0, n, "the check must not be recreated")
}

func TestDecoyVault_IsolatedFromReal(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	folderID, err := v.CreateFolder(ctx, "", "documents")
	require.NoError(t, err)
	_, err = v.WriteNote(ctx, folderID, "secrets", []byte("the real note"))
	require.NoError(t, err)
	fileID, err := v.WriteFile(ctx, "", "photo.jpg", bytes.NewReader([]byte("real payload")))
	require.NoError(t, err)

	require.NoError(t, v.SetDuressPin(ctx, duressPin))
	require.NoError(t, v.Lock())

	mode, err := v.Unlock(ctx, duressPin)
	require.NoError(t, err)
	assert.Equal(t, session.ModeDecoy, mode)
	assert.Equal(t, StateUnlockedDecoy, v.State())

	// Decoy root is empty no matter how much real data exists.
	children, err := v.ListChildren(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, children)

	// Real items are unreachable by id from the decoy session.
	_, err = v.ReadFile(ctx, fileID)
	assert.True(t, errors.Is(err, common.ErrNotFound))
	_, err = v.ListChildren(ctx, folderID)
	assert.True(t, errors.Is(err, common.ErrNotFound))

	decoyID, err := v.WriteNote(ctx, "", "shopping list", []byte("milk"))
	require.NoError(t, err)
	require.NoError(t, v.Lock())

	// Back in the real vault: real items intact, decoy item invisible.
	mode, err = v.Unlock(ctx, realPin)
	require.NoError(t, err)
	require.Equal(t, session.ModeReal, mode)

	children, err = v.ListChildren(ctx, "")
	require.NoError(t, err)
	assert.Len(t, children, 2)
	_, err = v.ReadNote(ctx, decoyID)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestSetDuressPin_Restrictions(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	err := v.SetDuressPin(ctx, realPin)
	assert.True(t, errors.Is(err, common.ErrInvalidPin), "duress pin must differ from real pin")

	require.NoError(t, v.SetDuressPin(ctx, duressPin))
	require.NoError(t, v.Lock())
	assert.True(t, errors.Is(v.SetDuressPin(ctx, duressPin), common.ErrLocked))

	_, err = v.Unlock(ctx, duressPin)
	require.NoError(t, err)
	err = v.SetDuressPin(ctx, []byte("999999"))
	assert.True(t, errors.Is(err, common.ErrAuthenticationFailed),
		"decoy session cannot change credentials")
}

func TestFileRoundTrip(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	payload := bytes.Repeat([]byte("vault payload "), 20_000)
	id, err := v.WriteFile(ctx, "", "big.bin", bytes.NewReader(payload))
	require.NoError(t, err)

	view, err := v.ReadFile(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, payload, view.Bytes())

	v.CloseView(view)
	assert.Nil(t, view.Bytes())
}

func TestNoteRoundTrip(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	id, err := v.WriteNote(ctx, "", "todo", []byte("water the plants"))
	require.NoError(t, err)

	body, err := v.ReadNote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("water the plants"), body)

	_, err = v.ReadFile(ctx, id)
	assert.Error(t, err, "a note is not a file")
}

func TestRenameAndMove(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	top, err := v.CreateFolder(ctx, "", "top")
	require.NoError(t, err)
	sub, err := v.CreateFolder(ctx, top, "sub")
	require.NoError(t, err)
	note, err := v.WriteNote(ctx, "", "n", []byte("x"))
	require.NoError(t, err)

	require.NoError(t, v.Rename(ctx, note, "renamed"))
	require.NoError(t, v.Move(ctx, note, sub))

	children, err := v.ListChildren(ctx, sub)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "renamed", children[0].Name)

	err = v.Move(ctx, top, sub)
	assert.True(t, errors.Is(err, common.ErrIntegrityViolation),
		"moving a folder under its own descendant must fail")

	assert.True(t, errors.Is(v.Rename(ctx, "no-such-id", "x"), common.ErrNotFound))
	assert.True(t, errors.Is(v.Rename(ctx, note, ""), common.ErrInvalidName))
}

func TestDeleteFile_WipesBlob(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	id, err := v.WriteFile(ctx, "", "doomed.txt", bytes.NewReader([]byte("short lived")))
	require.NoError(t, err)

	refs, err := v.blobs.Refs()
	require.NoError(t, err)
	require.Len(t, refs, 1)
	blobPath := v.blobs.Path(refs[0])

	require.NoError(t, v.DeleteItem(ctx, id))

	_, err = os.Stat(blobPath)
	assert.True(t, os.IsNotExist(err))
	_, err = v.ReadFile(ctx, id)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestDeleteFolder_Recursive(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	top, err := v.CreateFolder(ctx, "", "tree")
	require.NoError(t, err)
	sub, err := v.CreateFolder(ctx, top, "branch")
	require.NoError(t, err)
	_, err = v.WriteFile(ctx, sub, "leaf", bytes.NewReader([]byte("data")))
	require.NoError(t, err)

	require.NoError(t, v.DeleteItem(ctx, top))

	children, err := v.ListChildren(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, children)

	refs, err := v.blobs.Refs()
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestTombstoneSweep_FinishesInterruptedDelete(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	id, err := v.WriteFile(ctx, "", "half-deleted", bytes.NewReader([]byte("payload")))
	require.NoError(t, err)
	_, scope, err := v.activeSession()
	require.NoError(t, err)

	// Simulate a crash after tombstoning but before the payload wipe.
	require.NoError(t, v.items.MarkDeleted(ctx, scope, id))
	require.NoError(t, v.Lock())

	_, err = v.Unlock(ctx, realPin)
	require.NoError(t, err)

	refs, err := v.blobs.Refs()
	require.NoError(t, err)
	assert.Empty(t, refs, "sweep must wipe the orphaned payload")
	_, err = v.items.Get(ctx, scope, id)
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestChangePin(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	noteID, err := v.WriteNote(ctx, "", "keep", []byte("survives pin change"))
	require.NoError(t, err)

	newPin := []byte("998877")
	assert.True(t, errors.Is(v.ChangePin(ctx, wrongPin, newPin), common.ErrAuthenticationFailed))
	require.NoError(t, v.ChangePin(ctx, realPin, newPin))
	require.NoError(t, v.Lock())

	_, err = v.Unlock(ctx, realPin)
	assert.True(t, errors.Is(err, common.ErrAuthenticationFailed), "old pin must stop working")

	mode, err := v.Unlock(ctx, newPin)
	require.NoError(t, err)
	require.Equal(t, session.ModeReal, mode)

	body, err := v.ReadNote(ctx, noteID)
	require.NoError(t, err)
	assert.Equal(t, []byte("survives pin change"), body, "items survive a pin change untouched")
}

func TestLockedOperationsFail(t *testing.T) {
	v := setupVault(t)
	ctx := context.Background()
	require.NoError(t, v.Initialize(ctx, realPin))

	_, err := v.ListChildren(ctx, "")
	assert.True(t, errors.Is(err, common.ErrLocked))
	_, err = v.WriteFile(ctx, "", "f", bytes.NewReader(nil))
	assert.True(t, errors.Is(err, common.ErrLocked))
	_, err = v.Mode()
	assert.True(t, errors.Is(err, common.ErrLocked))
}

func TestLock_ClosesOpenViews(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	id, err := v.WriteFile(ctx, "", "open.txt", bytes.NewReader([]byte("visible")))
	require.NoError(t, err)
	view, err := v.ReadFile(ctx, id)
	require.NoError(t, err)

	require.NoError(t, v.Lock())
	assert.Nil(t, view.Bytes(), "lock must zero open views")
}

func TestTeardown(t *testing.T) {
	exitCode := -1
	v, err := Open(context.Background(), Options{
		Dir:             t.TempDir(),
		Logger:          testLogger(),
		DisablePresence: true,
		KDF:             testKDF,
		Exit:            func(code int) { exitCode = code },
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Initialize(ctx, realPin))
	_, err = v.Unlock(ctx, realPin)
	require.NoError(t, err)

	id, err := v.WriteFile(ctx, "", "f", bytes.NewReader([]byte("plaintext")))
	require.NoError(t, err)
	view, err := v.ReadFile(ctx, id)
	require.NoError(t, err)

	v.Teardown()

	assert.Equal(t, StateTerminated, v.State())
	assert.Equal(t, 0, exitCode)
	assert.Nil(t, view.Bytes(), "teardown must zero open views")

	select {
	case <-v.KillSwitch():
	default:
		t.Fatal("kill switch channel must be closed")
	}

	_, err = v.Unlock(ctx, realPin)
	assert.True(t, errors.Is(err, common.ErrTerminated))
	_, err = v.ListChildren(ctx, "")
	assert.True(t, errors.Is(err, common.ErrTerminated))

	v.Teardown() // idempotent
	assert.Equal(t, StateTerminated, v.State())
}

func TestPresenceLoss_TriggersTeardown(t *testing.T) {
	dir := t.TempDir()
	v, err := Open(context.Background(), Options{
		Dir:              dir,
		Logger:           testLogger(),
		PresenceInterval: 10 * time.Millisecond,
		PresenceDeadline: 50 * time.Millisecond,
		KDF:              testKDF,
		Exit:             func(int) {},
	})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.Initialize(ctx, realPin))
	_, err = v.Unlock(ctx, realPin)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(dir))

	select {
	case <-v.KillSwitch():
	case <-time.After(time.Second):
		t.Fatal("device loss must trigger teardown within one second")
	}
	assert.Equal(t, StateTerminated, v.State())
}

// removalReader feeds endless data and pulls the device once the first
// chunk has been consumed.
type removalReader struct {
	reads int
	fire  func()
}

func (r *removalReader) Read(p []byte) (int, error) {
	r.reads++
	if r.reads == 2 {
		r.fire()
	}
	for i := range p {
		p[i] = 0x5a
	}
	return len(p), nil
}

func TestDeviceRemoval_MidWriteFile_LeavesNothing(t *testing.T) {
	dir := t.TempDir()
	open := func() *Vault {
		v, err := Open(context.Background(), Options{
			Dir:             dir,
			Logger:          testLogger(),
			DisablePresence: true,
			KDF:             testKDF,
			Exit:            func(int) {},
		})
		require.NoError(t, err)
		return v
	}

	v := open()
	ctx := context.Background()
	require.NoError(t, v.Initialize(ctx, realPin))
	_, err := v.Unlock(ctx, realPin)
	require.NoError(t, err)

	_, err = v.WriteFile(ctx, "", "interrupted.bin", &removalReader{fire: v.Teardown})
	require.Error(t, err)
	require.Equal(t, StateTerminated, v.State())

	v2 := open()
	t.Cleanup(func() { _ = v2.Close() })
	_, err = v2.Unlock(ctx, realPin)
	require.NoError(t, err)

	children, err := v2.ListChildren(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, children, "the interrupted file must not appear in the tree")

	refs, err := v2.blobs.Refs()
	require.NoError(t, err)
	assert.Empty(t, refs, "no blob data may survive the interrupted write")
}

func TestIdleTimeout_Locks(t *testing.T) {
	v, err := Open(context.Background(), Options{
		Dir:             t.TempDir(),
		Logger:          testLogger(),
		DisablePresence: true,
		IdleLockTimeout: 100 * time.Millisecond,
		KDF:             testKDF,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	ctx := context.Background()
	require.NoError(t, v.Initialize(ctx, realPin))
	_, err = v.Unlock(ctx, realPin)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return v.State() == StateLocked },
		2*time.Second, 20*time.Millisecond)
}

func TestReset_DestroysEverything(t *testing.T) {
	v := setupUnlocked(t)
	ctx := context.Background()

	_, err := v.WriteFile(ctx, "", "f", bytes.NewReader([]byte("gone soon")))
	require.NoError(t, err)

	require.NoError(t, v.Reset(ctx))
	assert.Equal(t, StateLocked, v.State())

	refs, err := v.blobs.Refs()
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = v.Unlock(ctx, realPin)
	assert.Error(t, err, "vault is uninitialized after reset")
	require.NoError(t, v.Initialize(ctx, realPin), "reset vault can be initialized again")
}
