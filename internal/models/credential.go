package models

import (
	"time"

	"github.com/pinvault/pinvault/internal/cryptox"
)

// CredentialRecord is the single at-rest credential row.
//
// Each slot holds a KDF salt, a verifier for PIN classification, and the
// mode's random master key wrapped (AEAD-sealed) under the PIN-derived
// key-encryption key. Wrapping, rather than using the derived key as the
// master key directly, is what makes PIN changes possible without
// re-encrypting the whole vault.
//
// Both slots are always populated: when no duress PIN has been set, the
// duress slot holds random values that no PIN can satisfy, so the record's
// shape does not reveal whether a duress PIN exists.
//
// The record never contains a PIN, a master key, or a file key in the clear.
type CredentialRecord struct {
	RealSalt        []byte
	RealVerifier    []byte
	RealMasterCT    []byte
	RealMasterNonce []byte

	DuressSalt        []byte
	DuressVerifier    []byte
	DuressMasterCT    []byte
	DuressMasterNonce []byte

	KDF       cryptox.KDFParams
	CreatedAt time.Time
}
