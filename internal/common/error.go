// Package common defines shared constants and sentinel errors used across
// PinVault components. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// ErrAuthenticationFailed covers every credential-related failure: a
	// wrong PIN, an AEAD tag mismatch, or a store opened under the wrong
	// key. The cause is deliberately not distinguishable from the outside.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrResourceExhausted is returned when key derivation cannot obtain
	// the memory its parameters demand. The attempt fails; parameters are
	// never downgraded.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrStorageUnavailable indicates the backing storage device did not
	// respond. Sustained unavailability escalates to kill-switch teardown.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrIntegrityViolation indicates the metadata store is internally
	// inconsistent (orphaned item, dangling payload reference). It is
	// surfaced distinctly and never auto-repaired.
	ErrIntegrityViolation = errors.New("integrity violation")

	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Engine state errors.
	ErrLocked      = errors.New("vault is locked")
	ErrTerminated  = errors.New("vault instance terminated")
	ErrRateLimited = errors.New("too many unlock attempts")

	// Validation errors.
	ErrInvalidPin  = errors.New("invalid pin")
	ErrInvalidName = errors.New("invalid item name")
)
