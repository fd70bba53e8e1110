package auditlogs

import (
	"context"
	"fmt"

	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, e *models.AuditEntry) error {
	query := `
		INSERT INTO audit_logs (user_id, action, ip_address, user_agent, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := r.db.QueryRowContext(ctx, query, e.UserID, e.Action, e.IPAddress, e.UserAgent, e.Details).
		Scan(&e.ID, &e.Timestamp); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*models.AuditEntry, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_logs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	query := `
		SELECT id, user_id, action, ip_address, user_agent, details, created_at
		FROM audit_logs WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to select audit logs: %w", err)
	}
	defer rows.Close()

	var result []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.IPAddress, &e.UserAgent, &e.Details, &e.Timestamp); err != nil {
			return nil, 0, err
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}
