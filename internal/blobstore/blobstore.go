// Package blobstore keeps encrypted file payloads as individual blob files
// inside the vault directory.
//
// Blob layout:
//
//	magic "PVB1" (4 bytes)
//	nonce prefix (cryptox.NoncePrefixSize bytes, random per blob)
//	frames: { uint32 BE ciphertext length, ciphertext } ...
//
// Each frame is one authenticated chunk (cryptox.ChunkSealer); the last
// frame carries the authenticated final marker, so truncating the file at a
// frame boundary is detected at read time. Blobs are written to a temp file
// and renamed into place, so a crash mid-write never leaves a readable
// half-blob under a live ref.
package blobstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/cryptox"
	"github.com/pinvault/pinvault/internal/filex"
	"github.com/pinvault/pinvault/internal/securedel"
)

var magic = []byte("PVB1")

// maxFrameSize bounds a frame read so a corrupt length header cannot force
// a huge allocation.
const maxFrameSize = cryptox.ChunkSize + cryptox.ChunkOverhead

// Store is a directory of encrypted blob files.
type Store struct {
	dir string
}

// New ensures dir exists and returns a store over it.
func New(dir string) (*Store, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, err
	}
	return &Store{dir: abs}, nil
}

// Path returns the on-disk location of a blob ref.
func (s *Store) Path(ref string) string {
	return filepath.Join(s.dir, ref)
}

// Write encrypts r chunk by chunk under fileKey and stores it as ref,
// returning the plaintext size. The write is atomic: the blob appears under
// its final name only after all chunks are sealed and synced. Cancellation
// (kill-switch teardown) aborts between chunks and leaves no file behind.
func (s *Store) Write(ctx context.Context, ref string, fileKey []byte, r io.Reader) (n int64, err error) {
	prefix := common.GenerateRandByteArray(cryptox.NoncePrefixSize)
	sealer, err := cryptox.NewChunkSealer(fileKey, prefix)
	if err != nil {
		return 0, err
	}

	tmpPath := s.Path(ref + ".tmp")
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create blob temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	w := bufio.NewWriter(f)
	if _, err = w.Write(magic); err != nil {
		return 0, fmt.Errorf("write blob header: %w", err)
	}
	if _, err = w.Write(prefix); err != nil {
		return 0, fmt.Errorf("write blob header: %w", err)
	}

	buf := make([]byte, cryptox.ChunkSize)
	defer cryptox.Zero(buf)

	var lenHdr [4]byte
	for {
		if err = ctx.Err(); err != nil {
			return 0, err
		}

		var read int
		read, err = io.ReadFull(r, buf)

		// A short or empty read means the source is exhausted and this
		// chunk is the last one. A full chunk is sealed as non-final; if
		// the source happens to end exactly on a chunk boundary, the next
		// iteration seals an empty final chunk.
		final := false
		switch {
		case err == nil:
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
			final = true
			err = nil
		default:
			return 0, fmt.Errorf("read plaintext: %w", err)
		}

		ct, serr := sealer.Seal(buf[:read], final)
		if serr != nil {
			return 0, serr
		}
		binary.BigEndian.PutUint32(lenHdr[:], uint32(len(ct)))
		if _, err = w.Write(lenHdr[:]); err != nil {
			return 0, fmt.Errorf("write frame: %w", err)
		}
		if _, err = w.Write(ct); err != nil {
			return 0, fmt.Errorf("write frame: %w", err)
		}
		n += int64(read)

		if final {
			break
		}
	}

	if err = w.Flush(); err != nil {
		return 0, fmt.Errorf("flush blob: %w", err)
	}
	if err = f.Sync(); err != nil {
		return 0, fmt.Errorf("sync blob: %w", err)
	}
	if err = f.Close(); err != nil {
		return 0, fmt.Errorf("close blob: %w", err)
	}
	if err = os.Rename(tmpPath, s.Path(ref)); err != nil {
		return 0, fmt.Errorf("publish blob: %w", err)
	}
	if err = filex.SyncDir(s.dir); err != nil {
		return 0, err
	}
	return n, nil
}

// Open returns a streaming reader over the decrypted payload of ref. Every
// chunk is authenticated before any of its bytes are surfaced; a mismatch
// anywhere fails the read with ErrAuthenticationFailed. Close zeroes the
// internal plaintext buffer.
func (s *Store) Open(ctx context.Context, ref string, fileKey []byte) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(ref))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", ref, common.ErrNotFound)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}

	br := bufio.NewReader(f)
	hdr := make([]byte, len(magic)+cryptox.NoncePrefixSize)
	if _, err := io.ReadFull(br, hdr); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: blob header", common.ErrIntegrityViolation)
	}
	if string(hdr[:len(magic)]) != string(magic) {
		_ = f.Close()
		return nil, fmt.Errorf("%w: bad blob magic", common.ErrIntegrityViolation)
	}

	opener, err := cryptox.NewChunkOpener(fileKey, hdr[len(magic):])
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	rd := &blobReader{ctx: ctx, f: f, br: br, opener: opener}
	if err := rd.preloadLen(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return rd, nil
}

// Wipe securely destroys the blob file for ref.
func (s *Store) Wipe(ctx context.Context, ref string) error {
	return securedel.Wipe(ctx, s.Path(ref))
}

// Refs lists the blob refs currently present on disk.
func (s *Store) Refs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read blob dir: %w", err)
	}
	var refs []string
	for _, e := range entries {
		if !e.IsDir() {
			refs = append(refs, e.Name())
		}
	}
	return refs, nil
}

type blobReader struct {
	ctx     context.Context
	f       *os.File
	br      *bufio.Reader
	opener  *cryptox.ChunkOpener
	nextLen int
	noMore  bool
	buf     []byte
	off     int
	done    bool
}

// preloadLen reads the next frame's length header; at EOF it marks the
// stream exhausted so the previous frame is known to be the last.
func (r *blobReader) preloadLen() error {
	var hdr [4]byte
	_, err := io.ReadFull(r.br, hdr[:])
	if errors.Is(err, io.EOF) {
		r.noMore = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: frame header", common.ErrIntegrityViolation)
	}
	n := int(binary.BigEndian.Uint32(hdr[:]))
	if n < cryptox.ChunkOverhead || n > maxFrameSize {
		return fmt.Errorf("%w: frame size %d", common.ErrIntegrityViolation, n)
	}
	r.nextLen = n
	return nil
}

func (r *blobReader) fill() error {
	if r.noMore {
		r.done = true
		if !r.opener.Finalized() {
			return fmt.Errorf("%w: blob truncated", common.ErrAuthenticationFailed)
		}
		return io.EOF
	}

	ct := make([]byte, r.nextLen)
	if _, err := io.ReadFull(r.br, ct); err != nil {
		return fmt.Errorf("%w: frame body", common.ErrIntegrityViolation)
	}
	if err := r.preloadLen(); err != nil {
		return err
	}

	pt, err := r.opener.Open(ct, r.noMore)
	if err != nil {
		return err
	}
	r.buf = pt
	r.off = 0
	return nil
}

func (r *blobReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	if r.done {
		return 0, io.EOF
	}
	for r.off >= len(r.buf) {
		if r.buf != nil {
			cryptox.Zero(r.buf)
			r.buf = nil
		}
		if err := r.fill(); err != nil {
			return 0, err
		}
	}
	n := copy(p, r.buf[r.off:])
	r.off += n
	return n, nil
}

// Close zeroes any plaintext still buffered and closes the file.
func (r *blobReader) Close() error {
	if r.buf != nil {
		cryptox.Zero(r.buf)
		r.buf = nil
	}
	r.done = true
	return r.f.Close()
}
