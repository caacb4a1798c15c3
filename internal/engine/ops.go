package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/cryptox"
	"github.com/pinvault/pinvault/internal/models"
	"github.com/pinvault/pinvault/internal/viewer"
)

const maxNameLen = 255

func validateName(name string) error {
	if name == "" || len(name) > maxNameLen {
		return common.ErrInvalidName
	}
	return nil
}

// withMetadataKey runs fn over the session's metadata key, zeroing it on
// every exit path.
func (v *Vault) withMetadataKey(fn func(mk []byte) error) error {
	sess, _, err := v.activeSession()
	if err != nil {
		return err
	}
	return sess.WithKey(func(master []byte) error {
		mk, err := cryptox.MetadataKey(master)
		if err != nil {
			return err
		}
		defer cryptox.Zero(mk)
		return fn(mk)
	})
}

// resolveParent validates a parent id: empty means the scope root, anything
// else must be a live folder in the active scope.
func (v *Vault) resolveParent(ctx context.Context, scope, parentID string) error {
	if parentID == "" {
		return nil
	}
	parent, err := v.items.Get(ctx, scope, parentID)
	if err != nil {
		return err
	}
	if parent.Deleted {
		return common.ErrNotFound
	}
	if parent.Kind != models.KindFolder {
		return fmt.Errorf("parent %s is not a folder", parentID)
	}
	return nil
}

// ListChildren returns decrypted summaries of the live items under folderID
// in the active scope; an empty folderID lists the scope root. A name that
// fails to open is a hard error, never skipped.
func (v *Vault) ListChildren(ctx context.Context, folderID string) ([]models.ItemSummary, error) {
	_, scope, err := v.activeSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	if err := v.resolveParent(ctx, scope, folderID); err != nil {
		return nil, err
	}
	rows, err := v.items.ListChildren(ctx, scope, folderID)
	if err != nil {
		return nil, err
	}

	out := make([]models.ItemSummary, 0, len(rows))
	err = v.withMetadataKey(func(mk []byte) error {
		for _, it := range rows {
			name, err := cryptox.OpenField(mk, it.NameNonce, it.NameCT)
			if err != nil {
				return err
			}
			out = append(out, models.ItemSummary{
				ID:        it.ID,
				Name:      string(name),
				Kind:      it.Kind,
				CreatedAt: it.CreatedAt,
			})
			cryptox.Zero(name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateFolder adds a folder under parentID and returns its id.
func (v *Vault) CreateFolder(ctx context.Context, parentID, name string) (string, error) {
	return v.createItem(ctx, parentID, name, func(item *models.Item, mk []byte) error {
		item.Kind = models.KindFolder
		return nil
	})
}

// WriteNote adds a note item with a sealed body and returns its id.
func (v *Vault) WriteNote(ctx context.Context, parentID, name string, body []byte) (string, error) {
	return v.createItem(ctx, parentID, name, func(item *models.Item, mk []byte) error {
		item.Kind = models.KindNote
		ct, nonce, err := cryptox.SealField(mk, body)
		if err != nil {
			return err
		}
		item.NoteCT, item.NoteNonce = ct, nonce
		return nil
	})
}

// createItem seals the name, lets build fill in kind-specific fields, and
// inserts the row.
func (v *Vault) createItem(ctx context.Context, parentID, name string, build func(*models.Item, []byte) error) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	_, scope, err := v.activeSession()
	if err != nil {
		return "", err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	if err := v.resolveParent(ctx, scope, parentID); err != nil {
		return "", err
	}

	item := &models.Item{
		ID:        uuid.NewString(),
		Scope:     scope,
		ParentID:  parentID,
		CreatedAt: v.now().UTC(),
	}
	err = v.withMetadataKey(func(mk []byte) error {
		ct, nonce, err := cryptox.SealField(mk, []byte(name))
		if err != nil {
			return err
		}
		item.NameCT, item.NameNonce = ct, nonce
		return build(item, mk)
	})
	if err != nil {
		return "", err
	}
	if err := v.items.Create(ctx, item); err != nil {
		return "", err
	}
	return item.ID, nil
}

// ReadNote returns a note's decrypted body. The caller owns the returned
// slice and should zero it when done displaying it.
func (v *Vault) ReadNote(ctx context.Context, id string) ([]byte, error) {
	_, scope, err := v.activeSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	item, err := v.items.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, common.ErrNotFound
	}
	if item.Kind != models.KindNote {
		return nil, fmt.Errorf("item %s is not a note", id)
	}

	var body []byte
	err = v.withMetadataKey(func(mk []byte) error {
		body, err = cryptox.OpenField(mk, item.NoteNonce, item.NoteCT)
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFile encrypts r into a new blob and inserts the file item, returning
// its id. The blob is written before the row: a crash in between leaves an
// unreferenced blob, never a row pointing at a half-written payload. If the
// row insert fails the blob is wiped on the spot.
func (v *Vault) WriteFile(ctx context.Context, parentID, name string, r io.Reader) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	sess, scope, err := v.activeSession()
	if err != nil {
		return "", err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	if err := v.resolveParent(ctx, scope, parentID); err != nil {
		return "", err
	}

	// Blob refs double as on-disk file names, so they use the same opaque
	// hex shape as scope ids rather than dashed uuids.
	ref, err := common.MakeRandHexString(16)
	if err != nil {
		return "", fmt.Errorf("allocate blob ref: %w", err)
	}
	item := &models.Item{
		ID:        uuid.NewString(),
		Scope:     scope,
		Kind:      models.KindFile,
		ParentID:  parentID,
		BlobRef:   ref,
		FileSalt:  common.GenerateRandByteArray(cryptox.SaltSize),
		CreatedAt: v.now().UTC(),
	}

	err = sess.WithKey(func(master []byte) error {
		mk, err := cryptox.MetadataKey(master)
		if err != nil {
			return err
		}
		defer cryptox.Zero(mk)
		ct, nonce, err := cryptox.SealField(mk, []byte(name))
		if err != nil {
			return err
		}
		item.NameCT, item.NameNonce = ct, nonce

		fk, err := cryptox.FileKey(master, item.FileSalt)
		if err != nil {
			return err
		}
		defer cryptox.Zero(fk)
		_, err = v.blobs.Write(ctx, item.BlobRef, fk, r)
		return err
	})
	if err != nil {
		return "", err
	}

	if err := v.items.Create(ctx, item); err != nil {
		if werr := v.blobs.Wipe(context.Background(), item.BlobRef); werr != nil {
			v.log.Warn(ctx, "orphan blob wipe failed", "error", werr)
		}
		return "", err
	}
	return item.ID, nil
}

// ReadFile decrypts a file item into an in-memory view. The plaintext lives
// only in the view's buffer; it is zeroed when the view closes, on lock, or
// on kill-switch teardown.
func (v *Vault) ReadFile(ctx context.Context, id string) (*viewer.View, error) {
	sess, scope, err := v.activeSession()
	if err != nil {
		return nil, err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	item, err := v.items.Get(ctx, scope, id)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, common.ErrNotFound
	}
	if item.Kind != models.KindFile {
		return nil, fmt.Errorf("item %s is not a file", id)
	}

	var view *viewer.View
	err = sess.WithKey(func(master []byte) error {
		fk, err := cryptox.FileKey(master, item.FileSalt)
		if err != nil {
			return err
		}
		defer cryptox.Zero(fk)

		rd, err := v.blobs.Open(ctx, item.BlobRef, fk)
		if err != nil {
			return err
		}
		defer rd.Close()
		view, err = viewer.NewView(rd)
		return err
	})
	if err != nil {
		return nil, err
	}
	v.views.Add(view)
	return view, nil
}

// CloseView closes a view returned by ReadFile and forgets it.
func (v *Vault) CloseView(view *viewer.View) {
	v.views.Remove(view)
	_ = view.Close()
}

// Rename replaces an item's display name.
func (v *Vault) Rename(ctx context.Context, id, newName string) error {
	if err := validateName(newName); err != nil {
		return err
	}
	_, scope, err := v.activeSession()
	if err != nil {
		return err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	return v.withMetadataKey(func(mk []byte) error {
		ct, nonce, err := cryptox.SealField(mk, []byte(newName))
		if err != nil {
			return err
		}
		return v.items.Rename(ctx, scope, id, ct, nonce)
	})
}

// Move reparents an item; the repository rejects cycles and cross-scope
// parents.
func (v *Vault) Move(ctx context.Context, id, newParentID string) error {
	_, scope, err := v.activeSession()
	if err != nil {
		return err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	if err := v.resolveParent(ctx, scope, newParentID); err != nil {
		return err
	}
	return v.items.Move(ctx, scope, id, newParentID)
}

// FolderHasChildren reports whether a folder still holds live items.
func (v *Vault) FolderHasChildren(ctx context.Context, id string) (bool, error) {
	_, scope, err := v.activeSession()
	if err != nil {
		return false, err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()
	return v.items.HasChildren(ctx, scope, id)
}

// DeleteItem removes an item. Files go tombstone first, then payload wipe,
// then row removal, so a crash at any point leaves either a live item or a
// tombstone that the next unlock finishes off. Folders delete their subtree
// children first.
func (v *Vault) DeleteItem(ctx context.Context, id string) error {
	_, scope, err := v.activeSession()
	if err != nil {
		return err
	}
	ctx, cancel := v.opCtx(ctx)
	defer cancel()

	return v.deleteItem(ctx, scope, id)
}

func (v *Vault) deleteItem(ctx context.Context, scope, id string) error {
	item, err := v.items.Get(ctx, scope, id)
	if err != nil {
		return err
	}

	if item.Kind == models.KindFolder {
		children, err := v.items.ListChildren(ctx, scope, id)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := v.deleteItem(ctx, scope, child.ID); err != nil {
				return err
			}
		}
		return v.items.Delete(ctx, scope, id)
	}

	if item.Kind == models.KindFile && item.BlobRef != "" {
		if err := v.items.MarkDeleted(ctx, scope, id); err != nil {
			return err
		}
		if err := v.blobs.Wipe(ctx, item.BlobRef); err != nil {
			return err
		}
	}
	return v.items.Delete(ctx, scope, id)
}
