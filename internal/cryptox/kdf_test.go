package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// test costs are low on purpose; production costs live in DefaultKDFParams.
var testParams = KDFParams{Memory: 8 * 1024, Time: 1, Parallelism: 1}

func TestDeriveKey_Deterministic(t *testing.T) {
	pin := []byte("483920")
	salt := bytes.Repeat([]byte{0xAB}, SaltSize)

	k1, err := DeriveKey(pin, salt, testParams)
	require.NoError(t, err)
	k2, err := DeriveKey(pin, salt, testParams)
	require.NoError(t, err)

	assert.Equal(t, k1, k2, "same inputs must yield same key material")
	assert.Len(t, k1, KeySize)
}

func TestDeriveKey_DifferentSaltsDifferentKeys(t *testing.T) {
	pin := []byte("483920")

	k1, err := DeriveKey(pin, bytes.Repeat([]byte{1}, SaltSize), testParams)
	require.NoError(t, err)
	k2, err := DeriveKey(pin, bytes.Repeat([]byte{2}, SaltSize), testParams)
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDeriveKey_DifferentPinsDifferentKeys(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, SaltSize)

	k1, err := DeriveKey([]byte("111111"), salt, testParams)
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("111112"), salt, testParams)
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDeriveKey_InvalidParams(t *testing.T) {
	_, err := DeriveKey([]byte("123456"), make([]byte, SaltSize), KDFParams{})
	assert.Error(t, err)
}

func TestVerifierMatch(t *testing.T) {
	key, err := DeriveKey([]byte("123456"), make([]byte, SaltSize), testParams)
	require.NoError(t, err)

	v := MakeVerifier(key)
	assert.True(t, VerifierMatch(v, MakeVerifier(key)))

	other := make([]byte, KeySize)
	copy(other, key)
	other[0] ^= 1
	assert.False(t, VerifierMatch(v, MakeVerifier(other)))
}

func TestSubkeys_AreSeparated(t *testing.T) {
	master, err := DeriveKey([]byte("123456"), make([]byte, SaltSize), testParams)
	require.NoError(t, err)

	mk, err := MetadataKey(master)
	require.NoError(t, err)
	fk, err := FileKey(master, bytes.Repeat([]byte{9}, SaltSize))
	require.NoError(t, err)
	fk2, err := FileKey(master, bytes.Repeat([]byte{10}, SaltSize))
	require.NoError(t, err)

	assert.NotEqual(t, master, mk)
	assert.NotEqual(t, mk, fk)
	assert.NotEqual(t, fk, fk2, "distinct file salts must yield distinct file keys")
}

func TestScopeID_DisjointPerMasterKey(t *testing.T) {
	real, err := DeriveKey([]byte("111111"), make([]byte, SaltSize), testParams)
	require.NoError(t, err)
	duress, err := DeriveKey([]byte("999999"), make([]byte, SaltSize), testParams)
	require.NoError(t, err)

	s1, err := ScopeID(real)
	require.NoError(t, err)
	s2, err := ScopeID(duress)
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)

	again, err := ScopeID(real)
	require.NoError(t, err)
	assert.Equal(t, s1, again, "scope id must be stable for a master key")
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
