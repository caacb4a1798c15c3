package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/cryptox"
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

func (r *SQLiteRepository) Get(ctx context.Context) (*models.CredentialRecord, error) {
	query := `SELECT real_salt, real_verifier, real_master_ct, real_master_nonce,
			duress_salt, duress_verifier, duress_master_ct, duress_master_nonce,
			kdf_memory, kdf_time, kdf_parallelism, created_at
		FROM credentials WHERE id = 1`

	var rec models.CredentialRecord
	var createdAt int64
	err := r.db.QueryRowContext(ctx, query).Scan(
		&rec.RealSalt, &rec.RealVerifier, &rec.RealMasterCT, &rec.RealMasterNonce,
		&rec.DuressSalt, &rec.DuressVerifier, &rec.DuressMasterCT, &rec.DuressMasterNonce,
		&rec.KDF.Memory, &rec.KDF.Time, &rec.KDF.Parallelism, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential record: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rec, nil
}

func (r *SQLiteRepository) Save(ctx context.Context, rec *models.CredentialRecord) error {
	if len(rec.RealSalt) != cryptox.SaltSize || len(rec.DuressSalt) != cryptox.SaltSize {
		return fmt.Errorf("credential salts must be %d bytes", cryptox.SaltSize)
	}
	query := `INSERT INTO credentials
			(id, real_salt, real_verifier, real_master_ct, real_master_nonce,
			 duress_salt, duress_verifier, duress_master_ct, duress_master_nonce,
			 kdf_memory, kdf_time, kdf_parallelism, created_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			real_salt = excluded.real_salt,
			real_verifier = excluded.real_verifier,
			real_master_ct = excluded.real_master_ct,
			real_master_nonce = excluded.real_master_nonce,
			duress_salt = excluded.duress_salt,
			duress_verifier = excluded.duress_verifier,
			duress_master_ct = excluded.duress_master_ct,
			duress_master_nonce = excluded.duress_master_nonce,
			kdf_memory = excluded.kdf_memory,
			kdf_time = excluded.kdf_time,
			kdf_parallelism = excluded.kdf_parallelism
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.RealSalt, rec.RealVerifier, rec.RealMasterCT, rec.RealMasterNonce,
		rec.DuressSalt, rec.DuressVerifier, rec.DuressMasterCT, rec.DuressMasterNonce,
		rec.KDF.Memory, rec.KDF.Time, rec.KDF.Parallelism, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save credential record: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) SetCheck(ctx context.Context, scope string, ct, nonce []byte) error {
	query := `INSERT INTO store_checks (scope, check_ct, check_nonce) VALUES (?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			check_ct = excluded.check_ct,
			check_nonce = excluded.check_nonce
	`
	_, err := r.db.ExecContext(ctx, query, scope, ct, nonce)
	if err != nil {
		return fmt.Errorf("failed to set store check: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Purge(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM store_checks`); err != nil {
		return fmt.Errorf("failed to purge store checks: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return fmt.Errorf("failed to purge credentials: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) GetCheck(ctx context.Context, scope string) ([]byte, []byte, error) {
	var ct, nonce []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT check_ct, check_nonce FROM store_checks WHERE scope = ?`, scope).Scan(&ct, &nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, common.ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get store check: %w", err)
	}
	return ct, nonce, nil
}
