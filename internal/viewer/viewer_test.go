package viewer

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{ n int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.n > 0 {
		f.n--
		for i := range p {
			p[i] = 0xAA
		}
		return len(p), nil
	}
	return 0, errors.New("device gone")
}

func TestNewView_HoldsContent(t *testing.T) {
	v, err := NewView(bytes.NewReader([]byte("shown once")))
	require.NoError(t, err)
	defer v.Close()

	assert.Equal(t, []byte("shown once"), v.Bytes())
	assert.Equal(t, 10, v.Len())
}

func TestClose_ZeroesBuffer(t *testing.T) {
	v, err := NewView(bytes.NewReader([]byte{1, 2, 3, 4}))
	require.NoError(t, err)

	held := v.Bytes()
	require.NoError(t, v.Close())

	assert.Nil(t, v.Bytes())
	assert.Equal(t, 0, v.Len())
	assert.Equal(t, []byte{0, 0, 0, 0}, held, "underlying bytes must be zeroed")
}

func TestClose_Idempotent(t *testing.T) {
	v, err := NewView(bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
}

func TestNewView_ReadError(t *testing.T) {
	_, err := NewView(io.LimitReader(&failingReader{n: 1}, 1<<20))
	assert.Error(t, err)
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()

	v1, err := NewView(bytes.NewReader([]byte("one")))
	require.NoError(t, err)
	v2, err := NewView(bytes.NewReader([]byte("two")))
	require.NoError(t, err)
	r.Add(v1)
	r.Add(v2)

	r.CloseAll()
	assert.Nil(t, v1.Bytes())
	assert.Nil(t, v2.Bytes())

	// closing again via registry is harmless
	r.CloseAll()
}

func TestRegistry_RemoveThenCloseAll(t *testing.T) {
	r := NewRegistry()
	v, err := NewView(bytes.NewReader([]byte("kept")))
	require.NoError(t, err)
	r.Add(v)
	r.Remove(v)

	r.CloseAll()
	assert.Equal(t, []byte("kept"), v.Bytes(), "removed views stay open")
	_ = v.Close()
}
