// Package refreshtokens persists the opaque refresh tokens issued at login.
package refreshtokens

import (
	"context"
	"time"

	"github.com/pengine/pengine/internal/server/models"
)

// Repository issues, looks up and revokes refresh tokens.
type Repository interface {
	Create(ctx context.Context, userID, token string, expiresAt time.Time) error
	// Find returns common.ErrorNotFound when the token is absent.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	// Delete returns common.ErrorNotFound when no row was removed, so of two
	// concurrent rotations of one token only the first succeeds.
	Delete(ctx context.Context, token string) error
	// DeleteForUser revokes every session of a user.
	DeleteForUser(ctx context.Context, userID string) error
}
