// Package auditlogs persists the security audit trail of user accounts.
package auditlogs

import (
	"context"

	"github.com/pengine/pengine/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, e *models.AuditEntry) error
	// ListByUser returns one page of entries, newest first, and the total count.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditEntry, int, error)
}
