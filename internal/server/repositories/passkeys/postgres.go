package passkeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/server/models"
)

const selectColumns = `id, user_id, name, credential_id, public_key, sign_count, user_handle, created_at, last_used_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, p *models.Passkey) (*models.Passkey, error) {
	query := `
		INSERT INTO passkeys (user_id, name, credential_id, public_key, sign_count, user_handle)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		p.UserID, p.Name, p.CredentialID, p.PublicKey, int64(p.SignCount), p.UserHandle,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*models.Passkey, error) {
	query := `SELECT ` + selectColumns + ` FROM passkeys WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Passkey
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) GetByCredentialID(ctx context.Context, credentialID []byte) (*models.Passkey, error) {
	query := `SELECT ` + selectColumns + ` FROM passkeys WHERE credential_id = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, credentialID))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Passkey, error) {
	query := `SELECT ` + selectColumns + ` FROM passkeys WHERE id = $1 FOR UPDATE`
	return scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) UpdateSignCount(ctx context.Context, id string, count uint32, usedAt time.Time) error {
	query := `UPDATE passkeys SET sign_count = $2, last_used_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, int64(count), usedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

// Delete removes the passkey only if it belongs to userID.
func (r *PostgresRepository) Delete(ctx context.Context, userID, id string) error {
	query := `DELETE FROM passkeys WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return oneRow(res)
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Passkey, error) {
	var p models.Passkey
	if err := s.Scan(
		&p.ID, &p.UserID, &p.Name, &p.CredentialID, &p.PublicKey,
		&p.SignCount, &p.UserHandle, &p.CreatedAt, &p.LastUsedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanOne(row *sql.Row) (*models.Passkey, error) {
	p, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}
