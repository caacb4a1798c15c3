package cryptox

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/pinvault/pinvault/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// ChunkSize is the plaintext size of a full stream chunk. Files larger
	// than this are split so reads never buffer a whole payload.
	ChunkSize = 64 * 1024

	// NoncePrefixSize is the random per-file portion of each chunk nonce.
	// The remaining 8 bytes are a big-endian chunk counter, so nonce
	// freshness does not depend on caller discipline.
	NoncePrefixSize = chacha20poly1305.NonceSizeX - 8

	// ChunkOverhead is the per-chunk ciphertext expansion.
	ChunkOverhead = chacha20poly1305.Overhead
)

// chunkAAD binds each chunk to its position and marks the last one, so
// reordering and truncation at chunk boundaries fail authentication.
func chunkAAD(counter uint64, final bool) []byte {
	aad := make([]byte, 9)
	binary.BigEndian.PutUint64(aad, counter)
	if final {
		aad[8] = 1
	}
	return aad
}

func chunkNonce(prefix []byte, counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	copy(nonce, prefix)
	binary.BigEndian.PutUint64(nonce[NoncePrefixSize:], counter)
	return nonce
}

// ChunkSealer encrypts a file payload chunk by chunk with
// XChaCha20-Poly1305. One sealer must be used for exactly one stream;
// the counter never repeats under a (key, prefix) pair.
type ChunkSealer struct {
	aead    cipher.AEAD
	prefix  []byte
	counter uint64
	sealed  bool
}

// NewChunkSealer creates a sealer for the given per-file key and random
// nonce prefix (NoncePrefixSize bytes, generated once per encryption call).
func NewChunkSealer(fileKey, noncePrefix []byte) (*ChunkSealer, error) {
	if len(noncePrefix) != NoncePrefixSize {
		return nil, fmt.Errorf("nonce prefix must be %d bytes, got %d", NoncePrefixSize, len(noncePrefix))
	}
	aead, err := chacha20poly1305.NewX(fileKey)
	if err != nil {
		return nil, err
	}
	p := make([]byte, NoncePrefixSize)
	copy(p, noncePrefix)
	return &ChunkSealer{aead: aead, prefix: p}, nil
}

// Seal encrypts the next chunk. final must be true for the last chunk of
// the stream and false otherwise; it is authenticated, not just recorded.
// Calling Seal after the final chunk is a programming error.
func (s *ChunkSealer) Seal(plaintext []byte, final bool) ([]byte, error) {
	if s.sealed {
		return nil, fmt.Errorf("stream already finalized")
	}
	ct := s.aead.Seal(nil, chunkNonce(s.prefix, s.counter), plaintext, chunkAAD(s.counter, final))
	s.counter++
	if final {
		s.sealed = true
	}
	return ct, nil
}

// ChunkOpener decrypts a stream produced by ChunkSealer, enforcing chunk
// order and the final-chunk marker.
type ChunkOpener struct {
	aead    cipher.AEAD
	prefix  []byte
	counter uint64
	done    bool
}

// NewChunkOpener creates an opener for the given per-file key and the nonce
// prefix recorded in the blob header.
func NewChunkOpener(fileKey, noncePrefix []byte) (*ChunkOpener, error) {
	if len(noncePrefix) != NoncePrefixSize {
		return nil, fmt.Errorf("nonce prefix must be %d bytes, got %d", NoncePrefixSize, len(noncePrefix))
	}
	aead, err := chacha20poly1305.NewX(fileKey)
	if err != nil {
		return nil, err
	}
	p := make([]byte, NoncePrefixSize)
	copy(p, noncePrefix)
	return &ChunkOpener{aead: aead, prefix: p}, nil
}

// Open authenticates and decrypts the next chunk. A tag mismatch — caused by
// tampering, a wrong key, or a chunk sealed at a different position — yields
// ErrAuthenticationFailed and no plaintext.
func (o *ChunkOpener) Open(ciphertext []byte, final bool) ([]byte, error) {
	if o.done {
		return nil, fmt.Errorf("%w: chunk after final", common.ErrAuthenticationFailed)
	}
	pt, err := o.aead.Open(nil, chunkNonce(o.prefix, o.counter), ciphertext, chunkAAD(o.counter, final))
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %d", common.ErrAuthenticationFailed, o.counter)
	}
	o.counter++
	if final {
		o.done = true
	}
	return pt, nil
}

// Finalized reports whether the final chunk has been opened, i.e. the whole
// stream authenticated.
func (o *ChunkOpener) Finalized() bool { return o.done }
