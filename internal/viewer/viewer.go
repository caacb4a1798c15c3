// Package viewer provides ephemeral in-memory views of decrypted file
// content. A View's buffer exists only in volatile memory and is zeroed on
// Close; the engine closes every open view on lock and on kill-switch
// teardown, whichever comes first. Nothing here ever touches storage.
package viewer

import (
	"bytes"
	"io"
	"sync"

	"github.com/pinvault/pinvault/internal/cryptox"
)

// View holds one file's decrypted bytes for display.
type View struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

// NewView drains r into a transient buffer and returns the view. On any
// read error the partial buffer is zeroed before the error is returned.
func NewView(r io.Reader) (*View, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		b := buf.Bytes()
		cryptox.Zero(b[:cap(b)])
		return nil, err
	}
	return &View{data: buf.Bytes()}, nil
}

// Bytes returns the decrypted content. The slice is only valid until Close;
// callers must not retain it.
func (v *View) Bytes() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	return v.data
}

// Len returns the content length, or 0 after Close.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return 0
	}
	return len(v.data)
}

// Close zeroes the buffer. Idempotent.
func (v *View) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil
	}
	v.closed = true
	cryptox.Zero(v.data[:cap(v.data)])
	v.data = nil
	return nil
}

// Registry tracks open views so they can all be torn down at once.
type Registry struct {
	mu    sync.Mutex
	views map[*View]struct{}
}

func NewRegistry() *Registry {
	return &Registry{views: make(map[*View]struct{})}
}

// Add registers a view for bulk teardown.
func (r *Registry) Add(v *View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[v] = struct{}{}
}

// Remove forgets a view (after an individual Close).
func (r *Registry) Remove(v *View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.views, v)
}

// CloseAll closes every registered view. Used on lock and kill switch.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	views := make([]*View, 0, len(r.views))
	for v := range r.views {
		views = append(views, v)
	}
	r.views = make(map[*View]struct{})
	r.mu.Unlock()

	for _, v := range views {
		_ = v.Close()
	}
}
