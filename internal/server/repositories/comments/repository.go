// Package comments persists replies to posts, including the password
// digest of private guest comments.
package comments

import (
	"context"

	"github.com/pengine/pengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, c *models.Comment) (*models.Comment, error)
	Get(ctx context.Context, id string) (*models.Comment, error)
	ListByPost(ctx context.Context, postID string) ([]*models.Comment, error)
}
