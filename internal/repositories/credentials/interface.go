// Package credentials persists the vault's single credential record and the
// per-scope store check values used to detect wrong-key opens.
package credentials

import (
	"context"

	"github.com/pinvault/pinvault/internal/models"
)

type Repository interface {
	// Get returns the credential record, or common.ErrNotFound when the
	// vault has not been initialized yet.
	Get(ctx context.Context) (*models.CredentialRecord, error)

	// Save inserts or replaces the credential record.
	Save(ctx context.Context, rec *models.CredentialRecord) error

	// SetCheck stores the sealed check value for a scope.
	SetCheck(ctx context.Context, scope string, ct, nonce []byte) error

	// GetCheck returns the sealed check value for a scope, or
	// common.ErrNotFound when the scope was never initialized.
	GetCheck(ctx context.Context, scope string) (ct, nonce []byte, err error)

	// Purge drops the credential record and every store check. Full vault
	// reset only.
	Purge(ctx context.Context) error
}
