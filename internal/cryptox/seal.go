package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/pinvault/pinvault/internal/common"
)

// FieldNonceSize is the AES-GCM nonce length used for metadata fields.
const FieldNonceSize = 12

// SealField encrypts a small metadata value (item name, note body, check
// value) with AES-GCM under the metadata key. A fresh random nonce is
// generated per call; ciphertext and nonce are returned separately, matching
// the two-column storage layout.
func SealField(key, plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	nonce = common.GenerateRandByteArray(aesgcm.NonceSize())
	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// OpenField decrypts a metadata value sealed by SealField. A tag mismatch
// (tampering or wrong key) is reported as ErrAuthenticationFailed and no
// plaintext bytes are returned.
func OpenField(key, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: field open: %v", common.ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}
