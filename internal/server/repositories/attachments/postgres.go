package attachments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/server/models"
)

const selectColumns = `id, post_id, file_name, content_type, size, sha256, storage_key, nonce, tag, uploaded_at`

// PostgresRepository implements attachment storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create inserts the metadata row. Nonce and Tag are stored as NULL for
// plaintext attachments.
func (r *PostgresRepository) Create(ctx context.Context, a *models.Attachment) (*models.Attachment, error) {
	query := `
		INSERT INTO attachments (post_id, file_name, content_type, size, sha256, storage_key, nonce, tag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, uploaded_at
	`
	err := r.db.QueryRowContext(ctx, query,
		a.PostID, a.FileName, a.ContentType, a.Size, a.SHA256, a.StorageKey, nullable(a.Nonce), nullable(a.Tag),
	).Scan(&a.ID, &a.UploadedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Attachment, error) {
	query := `SELECT ` + selectColumns + ` FROM attachments WHERE id = $1`
	a, err := scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) ListByPost(ctx context.Context, postID string) ([]*models.Attachment, error) {
	query := `SELECT ` + selectColumns + ` FROM attachments WHERE post_id = $1 ORDER BY uploaded_at`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments: %w", err)
	}
	defer rows.Close()

	var result []*models.Attachment
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Attachment, error) {
	var (
		a          models.Attachment
		nonce, tag sql.NullString
	)
	if err := s.Scan(
		&a.ID, &a.PostID, &a.FileName, &a.ContentType, &a.Size, &a.SHA256, &a.StorageKey,
		&nonce, &tag, &a.UploadedAt,
	); err != nil {
		return nil, err
	}
	a.Nonce, a.Tag = nonce.String, tag.String
	return &a, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
