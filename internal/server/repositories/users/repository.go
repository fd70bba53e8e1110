// Package users persists accounts and their credentials.
package users

import (
	"context"
	"time"

	"github.com/pengine/pengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByLogin(ctx context.Context, userName string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	// GetForUpdate loads the user and locks the row until the surrounding
	// transaction ends. It must be called on a transaction handle.
	GetForUpdate(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, hash, salt string) error
	UpdateTOTP(ctx context.Context, id string, state models.TOTPState) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
}
