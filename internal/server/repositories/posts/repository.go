// Package posts persists content items, their protection columns and the
// groups a restricted post is shared with.
package posts

import (
	"context"

	"github.com/pengine/pengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, post *models.Post) (*models.Post, error)
	Get(ctx context.Context, id string) (*models.Post, error)
	// Update rewrites the body, visibility, schedule and all four protection
	// columns in one statement.
	Update(ctx context.Context, post *models.Post) error
	ReplaceGroups(ctx context.Context, postID string, groupIDs []string) error
	// ListRecent returns up to limit posts, newest first, with their groups.
	ListRecent(ctx context.Context, limit int) ([]*models.Post, error)
	Delete(ctx context.Context, id string) error
}
