// Package items persists the per-scope vault item trees. Every query is
// keyed by scope: a session can only ever see rows carrying its own opaque
// scope id, which is how the real and decoy trees stay disjoint.
package items

import (
	"context"

	"github.com/pinvault/pinvault/internal/models"
)

type Repository interface {
	// Create inserts a new item row.
	Create(ctx context.Context, item *models.Item) error

	// Get returns a single item by id, scoped. Tombstoned rows are
	// returned (callers decide whether to serve them); rows from other
	// scopes are common.ErrNotFound.
	Get(ctx context.Context, scope, id string) (*models.Item, error)

	// ListChildren lists live (non-tombstoned) items under parentID;
	// an empty parentID means the scope root.
	ListChildren(ctx context.Context, scope, parentID string) ([]models.Item, error)

	// Rename replaces an item's sealed display name.
	Rename(ctx context.Context, scope, id string, nameCT, nameNonce []byte) error

	// Move reparents an item. The new parent must exist in the same scope
	// (or be empty for the root) and must not be the item itself or one of
	// its descendants.
	Move(ctx context.Context, scope, id, newParentID string) error

	// MarkDeleted tombstones an item so it is no longer listed or served
	// while its payload awaits secure wiping.
	MarkDeleted(ctx context.Context, scope, id string) error

	// Delete removes the row entirely. Called only after the payload blob
	// (if any) has been wiped.
	Delete(ctx context.Context, scope, id string) error

	// HasChildren reports whether any live item has this parent.
	HasChildren(ctx context.Context, scope, id string) (bool, error)

	// ListDeleted returns tombstoned rows for the scope, so interrupted
	// deletions can be finished on the next unlock.
	ListDeleted(ctx context.Context, scope string) ([]models.Item, error)

	// PurgeAll drops every row in every scope. Full vault reset only.
	PurgeAll(ctx context.Context) error
}
