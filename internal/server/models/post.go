package models

import (
	"time"

	"github.com/pengine/pengine/internal/access"
	"github.com/pengine/pengine/internal/cryptox"
)

// Post is a content item. When Protected is set, Content is empty and the
// body lives only in the encrypted payload.
type Post struct {
	ID         string
	AuthorID   string
	Title      string
	Content    string
	Visibility access.Visibility
	GroupIDs   []string
	PublishAt  *time.Time
	Protected  *cryptox.EncodedPayload
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}

// AccessItem returns the fields the access engine decides on.
func (p *Post) AccessItem() access.Item {
	return access.Item{
		ID:         p.ID,
		OwnerID:    p.AuthorID,
		Visibility: p.Visibility,
		GroupIDs:   p.GroupIDs,
		PublishAt:  p.PublishAt,
		Protected:  p.Protected != nil,
	}
}

// Metadata returns what may be shown before the body is unlocked.
func (p *Post) Metadata() access.Metadata {
	return access.Metadata{
		Title:     p.Title,
		AuthorID:  p.AuthorID,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		PublishAt: p.PublishAt,
	}
}
