// Package securedel destroys encrypted payload files beyond recovery from
// the storage medium: the full byte range is overwritten with zeros in
// three passes, flushed to the device between passes, and only then
// unlinked.
package securedel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pinvault/pinvault/internal/filex"
)

// passes is the number of zero-fill overwrites before unlink.
const passes = 3

// blockSize is the write granularity; teardown cancellation is honored
// between blocks, never mid-write.
const blockSize = 64 * 1024

// Wipe overwrites and removes the file at path. A missing file is treated
// as already wiped so the operation is idempotent and an interrupted
// deletion can be retried. Cancellation via ctx aborts between blocks; the
// partially wiped file stays on disk for a later retry (it holds only
// ciphertext and zeros, never plaintext).
func Wipe(ctx context.Context, path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open for wipe: %w", err)
	}

	err = overwrite(ctx, f)
	cerr := f.Close()
	if err != nil {
		return err
	}
	if cerr != nil {
		return fmt.Errorf("close after wipe: %w", cerr)
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove wiped file: %w", err)
	}
	// Make the unlink itself durable.
	if err := filex.SyncDir(filepath.Dir(path)); err != nil {
		return err
	}
	return nil
}

func overwrite(ctx context.Context, f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat for wipe: %w", err)
	}
	size := info.Size()
	zeros := make([]byte, blockSize)

	for pass := 0; pass < passes; pass++ {
		if _, err := f.Seek(0, 0); err != nil {
			return fmt.Errorf("seek pass %d: %w", pass, err)
		}
		var written int64
		for written < size {
			if err := ctx.Err(); err != nil {
				return err
			}
			n := int64(blockSize)
			if size-written < n {
				n = size - written
			}
			if _, err := f.Write(zeros[:n]); err != nil {
				return fmt.Errorf("write pass %d: %w", pass, err)
			}
			written += n
		}
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync pass %d: %w", pass, err)
		}
	}
	return nil
}
