package comments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/server/models"
)

const selectColumns = `id, post_id, author_id, parent_comment_id, guest_name, content, is_private,
	guest_password_hash, guest_password_salt, created_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Comment) (*models.Comment, error) {
	var hash, salt *string
	if c.Guest != nil {
		hash, salt = &c.Guest.PasswordHash, &c.Guest.PasswordSalt
	}

	query := `
		INSERT INTO comments (post_id, author_id, parent_comment_id, guest_name, content, is_private,
			guest_password_hash, guest_password_salt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		c.PostID, c.AuthorID, c.ParentCommentID, c.GuestName, c.Content, c.IsPrivate, hash, salt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Comment, error) {
	query := `SELECT ` + selectColumns + ` FROM comments WHERE id = $1`
	c, err := scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ListByPost(ctx context.Context, postID string) ([]*models.Comment, error) {
	query := `SELECT ` + selectColumns + ` FROM comments WHERE post_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		return nil, fmt.Errorf("failed to select comments: %w", err)
	}
	defer rows.Close()

	var result []*models.Comment
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Comment, error) {
	var (
		c          models.Comment
		hash, salt *string
	)
	if err := s.Scan(
		&c.ID, &c.PostID, &c.AuthorID, &c.ParentCommentID, &c.GuestName, &c.Content, &c.IsPrivate,
		&hash, &salt, &c.CreatedAt,
	); err != nil {
		return nil, err
	}
	if hash != nil && salt != nil {
		c.Guest = &models.GuestCredential{PasswordHash: *hash, PasswordSalt: *salt}
	}
	return &c, nil
}
