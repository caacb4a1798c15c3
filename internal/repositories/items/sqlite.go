package items

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/dbx"
	"github.com/pinvault/pinvault/internal/models"
)

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const itemColumns = `id, scope, kind, name_ct, name_nonce, note_ct, note_nonce,
	parent_id, blob_ref, file_salt, created_at, deleted`

func scanItem(row interface{ Scan(dest ...any) error }) (*models.Item, error) {
	var it models.Item
	var parentID, blobRef sql.NullString
	var createdAt int64
	var deleted int
	err := row.Scan(&it.ID, &it.Scope, &it.Kind, &it.NameCT, &it.NameNonce,
		&it.NoteCT, &it.NoteNonce, &parentID, &blobRef, &it.FileSalt, &createdAt, &deleted)
	if err != nil {
		return nil, err
	}
	it.ParentID = parentID.String
	it.BlobRef = blobRef.String
	it.CreatedAt = time.Unix(createdAt, 0).UTC()
	it.Deleted = deleted != 0
	return &it, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (r *SQLiteRepository) Create(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items
			(` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.Scope, item.Kind, item.NameCT, item.NameNonce,
		item.NoteCT, item.NoteNonce, nullable(item.ParentID), nullable(item.BlobRef),
		item.FileSalt, item.CreatedAt.Unix(), boolToInt(item.Deleted))
	if err != nil {
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(ctx context.Context, scope, id string) (*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE scope = ? AND id = ?`
	it, err := scanItem(r.db.QueryRowContext(ctx, query, scope, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

func (r *SQLiteRepository) ListChildren(ctx context.Context, scope, parentID string) ([]models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items
		WHERE scope = ? AND deleted = 0 AND `
	args := []any{scope}
	if parentID == "" {
		query += `parent_id IS NULL`
	} else {
		query += `parent_id = ?`
		args = append(args, parentID)
	}
	query += ` ORDER BY kind, created_at, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list children: %w", err)
	}
	defer rows.Close()

	var result []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) Rename(ctx context.Context, scope, id string, nameCT, nameNonce []byte) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE items SET name_ct = ?, name_nonce = ? WHERE scope = ? AND id = ? AND deleted = 0`,
		nameCT, nameNonce, scope, id)
	if err != nil {
		return fmt.Errorf("failed to rename item: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) Move(ctx context.Context, scope, id, newParentID string) error {
	if newParentID != "" {
		if err := r.ensureNotDescendant(ctx, scope, id, newParentID); err != nil {
			return err
		}
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE items SET parent_id = ? WHERE scope = ? AND id = ? AND deleted = 0`,
		nullable(newParentID), scope, id)
	if err != nil {
		return fmt.Errorf("failed to move item: %w", err)
	}
	return requireOneRow(res)
}

// ensureNotDescendant walks newParentID's ancestor chain and fails when it
// runs through id, which would fold the tree into a cycle.
func (r *SQLiteRepository) ensureNotDescendant(ctx context.Context, scope, id, newParentID string) error {
	cur := newParentID
	for cur != "" {
		if cur == id {
			return fmt.Errorf("%w: move would create a cycle", common.ErrIntegrityViolation)
		}
		var parent sql.NullString
		err := r.db.QueryRowContext(ctx,
			`SELECT parent_id FROM items WHERE scope = ? AND id = ?`, scope, cur).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("parent %s: %w", cur, common.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to walk ancestors: %w", err)
		}
		cur = parent.String
	}
	return nil
}

func (r *SQLiteRepository) MarkDeleted(ctx context.Context, scope, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE items SET deleted = 1 WHERE scope = ? AND id = ?`, scope, id)
	if err != nil {
		return fmt.Errorf("failed to tombstone item: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) Delete(ctx context.Context, scope, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM items WHERE scope = ? AND id = ?`, scope, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return requireOneRow(res)
}

func (r *SQLiteRepository) HasChildren(ctx context.Context, scope, id string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE scope = ? AND parent_id = ? AND deleted = 0`,
		scope, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count children: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) ListDeleted(ctx context.Context, scope string) ([]models.Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE scope = ? AND deleted = 1`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list tombstones: %w", err)
	}
	defer rows.Close()

	var result []models.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) PurgeAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM items`); err != nil {
		return fmt.Errorf("failed to purge items: %w", err)
	}
	return nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
