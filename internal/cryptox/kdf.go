// Package cryptox implements the vault's key management and authenticated
// encryption: an argon2id PIN-to-key derivation, verifier construction,
// HKDF subkey separation, AES-GCM sealing for metadata fields, and a
// chunked XChaCha20-Poly1305 stream for file payloads.
package cryptox

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"io"

	"github.com/pinvault/pinvault/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the length of every derived key, in bytes.
	KeySize = 32
	// SaltSize is the length of credential and file salts, in bytes.
	SaltSize = 32
)

// HKDF labels. Each consumer of the master key gets its own label so keys
// for different purposes never coincide.
const (
	labelMetadata = "pinvault/v1/metadata"
	labelScope    = "pinvault/v1/scope"
	labelFile     = "pinvault/v1/file"
)

// KDFParams are the argon2id cost parameters, fixed at vault creation and
// stored in the credential record. Memory is in KiB.
type KDFParams struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
}

// DefaultKDFParams returns the costs used for newly created vaults.
func DefaultKDFParams() KDFParams {
	return KDFParams{Memory: 64 * 1024, Time: 3, Parallelism: 4}
}

// Valid reports whether the parameters are usable by argon2id.
func (p KDFParams) Valid() bool {
	return p.Memory >= 8*uint32(p.Parallelism) && p.Time >= 1 && p.Parallelism >= 1
}

// DeriveKey maps a PIN and salt to KeySize bytes of key material using
// argon2id with the given cost parameters.
//
// The argon2 working buffer is Memory KiB; if the allocation fails the Go
// runtime panics, which we convert to ErrResourceExhausted so the unlock
// attempt fails loudly instead of being retried with weaker costs.
func DeriveKey(pin, salt []byte, p KDFParams) (key []byte, err error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: bad kdf params", common.ErrResourceExhausted)
	}
	defer func() {
		if r := recover(); r != nil {
			key = nil
			err = fmt.Errorf("%w: argon2: %v", common.ErrResourceExhausted, r)
		}
	}()
	key = argon2.IDKey(pin, salt, p.Time, p.Memory, p.Parallelism, KeySize)
	return key, nil
}

// MakeVerifier returns a value that can be stored at rest to test a derived
// key without revealing it: SHA-256 of the key material.
func MakeVerifier(key []byte) []byte {
	hash := sha256.Sum256(key)
	return hash[:]
}

// VerifierMatch compares a stored verifier against a candidate in constant
// time.
func VerifierMatch(stored, candidate []byte) bool {
	return subtle.ConstantTimeCompare(stored, candidate) == 1
}

// deriveSubkey expands the master key into an independent subkey for the
// given label and salt.
func deriveSubkey(master []byte, label string, salt []byte, n int) ([]byte, error) {
	r := hkdf.New(sha256.New, master, salt, []byte(label))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// MetadataKey derives the key that seals metadata fields and the store
// check value. Distinct from every file key.
func MetadataKey(master []byte) ([]byte, error) {
	return deriveSubkey(master, labelMetadata, nil, KeySize)
}

// ScopeID derives the opaque identifier tagging this session's item tree.
// Different master keys (real vs. duress PIN) yield unrelated scopes, so the
// two trees are disjoint by construction.
func ScopeID(master []byte) (string, error) {
	b, err := deriveSubkey(master, labelScope, nil, 16)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", b), nil
}

// FileKey derives the per-file encryption key from the master key and the
// file's random salt. Compromise of one file key reveals nothing about
// another's.
func FileKey(master, fileSalt []byte) ([]byte, error) {
	return deriveSubkey(master, labelFile, fileSalt, KeySize)
}
