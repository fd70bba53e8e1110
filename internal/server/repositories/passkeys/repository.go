// Package passkeys persists WebAuthn credentials registered by users.
package passkeys

import (
	"context"
	"time"

	"github.com/pengine/pengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.Passkey) (*models.Passkey, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Passkey, error)
	GetByCredentialID(ctx context.Context, credentialID []byte) (*models.Passkey, error)
	// GetForUpdate must be called on a transaction handle.
	GetForUpdate(ctx context.Context, id string) (*models.Passkey, error)
	UpdateSignCount(ctx context.Context, id string, count uint32, usedAt time.Time) error
	Delete(ctx context.Context, userID, id string) error
}
