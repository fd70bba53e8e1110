// Package attachments persists attachment metadata. The bytes live in the
// blob store under StorageKey.
package attachments

import (
	"context"

	"github.com/pengine/pengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, a *models.Attachment) (*models.Attachment, error)
	Get(ctx context.Context, id string) (*models.Attachment, error)
	ListByPost(ctx context.Context, postID string) ([]*models.Attachment, error)
}
