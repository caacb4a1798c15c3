package cryptox

import (
	"errors"
	"testing"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenField_RoundTrip(t *testing.T) {
	key := common.GenerateRandByteArray(KeySize)
	plaintext := []byte("holiday photos")

	ct, nonce, err := SealField(key, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ct)

	got, err := OpenField(key, nonce, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestSealField_FreshNoncePerCall(t *testing.T) {
	key := common.GenerateRandByteArray(KeySize)

	_, n1, err := SealField(key, []byte("x"))
	require.NoError(t, err)
	_, n2, err := SealField(key, []byte("x"))
	require.NoError(t, err)

	assert.NotEqual(t, n1, n2)
}

func TestOpenField_WrongKey(t *testing.T) {
	key := common.GenerateRandByteArray(KeySize)
	ct, nonce, err := SealField(key, []byte("secret"))
	require.NoError(t, err)

	got, err := OpenField(common.GenerateRandByteArray(KeySize), nonce, ct)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, common.ErrAuthenticationFailed))
}

func TestOpenField_FlippedBit(t *testing.T) {
	key := common.GenerateRandByteArray(KeySize)
	ct, nonce, err := SealField(key, []byte("secret"))
	require.NoError(t, err)

	for _, idx := range []int{0, len(ct) / 2, len(ct) - 1} {
		tampered := make([]byte, len(ct))
		copy(tampered, ct)
		tampered[idx] ^= 0x01

		got, err := OpenField(key, nonce, tampered)
		assert.Nil(t, got, "no partial plaintext on tag mismatch")
		assert.True(t, errors.Is(err, common.ErrAuthenticationFailed))
	}
}
