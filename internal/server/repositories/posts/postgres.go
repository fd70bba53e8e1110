package posts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pengine/pengine/internal/access"
	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/cryptox"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/server/models"
)

const selectColumns = `id, author_id, title, content, visibility, publish_at,
	encrypted_content, password_salt, encryption_iv, encryption_tag, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, post *models.Post) (*models.Post, error) {
	ct, salt, iv, tag := protectionColumns(post.Protected)

	query := `
		INSERT INTO posts (author_id, title, content, visibility, publish_at,
			encrypted_content, password_salt, encryption_iv, encryption_tag)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		post.AuthorID, post.Title, post.Content, int(post.Visibility), post.PublishAt,
		ct, salt, iv, tag,
	).Scan(&post.ID, &post.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return post, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Post, error) {
	query := `SELECT ` + selectColumns + ` FROM posts WHERE id = $1`

	post, err := scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	groups, err := r.groups(ctx, id)
	if err != nil {
		return nil, err
	}
	post.GroupIDs = groups
	return post, nil
}

func (r *PostgresRepository) Update(ctx context.Context, post *models.Post) error {
	ct, salt, iv, tag := protectionColumns(post.Protected)

	query := `
		UPDATE posts SET
			title = $2, content = $3, visibility = $4, publish_at = $5,
			encrypted_content = $6, password_salt = $7, encryption_iv = $8, encryption_tag = $9,
			updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		post.ID, post.Title, post.Content, int(post.Visibility), post.PublishAt,
		ct, salt, iv, tag,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// ReplaceGroups deletes the post's group rows and inserts groupIDs. Callers
// run it in the same transaction as Update.
func (r *PostgresRepository) ReplaceGroups(ctx context.Context, postID string, groupIDs []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM post_groups WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	for _, g := range groupIDs {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO post_groups (post_id, group_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			postID, g,
		); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, limit int) ([]*models.Post, error) {
	query := `SELECT ` + selectColumns + ` FROM posts ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select posts: %w", err)
	}
	defer rows.Close()

	var result []*models.Post
	byID := make(map[string]*models.Post)
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return result, nil
	}

	groupQuery := `
		SELECT pg.post_id, pg.group_id FROM post_groups pg
		JOIN (SELECT id FROM posts ORDER BY created_at DESC LIMIT $1) p ON p.id = pg.post_id
		ORDER BY pg.post_id, pg.group_id
	`
	grows, err := r.db.QueryContext(ctx, groupQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select post groups: %w", err)
	}
	defer grows.Close()

	for grows.Next() {
		var postID, groupID string
		if err := grows.Scan(&postID, &groupID); err != nil {
			return nil, err
		}
		if p, ok := byID[postID]; ok {
			p.GroupIDs = append(p.GroupIDs, groupID)
		}
	}
	if err := grows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) groups(ctx context.Context, postID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT group_id FROM post_groups WHERE post_id = $1 ORDER BY group_id`, postID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Post, error) {
	var (
		p                 models.Post
		visibility        int
		ct, salt, iv, tag *string
	)
	if err := s.Scan(
		&p.ID, &p.AuthorID, &p.Title, &p.Content, &visibility, &p.PublishAt,
		&ct, &salt, &iv, &tag, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	p.Visibility = access.Visibility(visibility)
	if !p.Visibility.Valid() {
		return nil, fmt.Errorf("post %s: invalid visibility %d", p.ID, visibility)
	}
	if salt != nil {
		p.Protected = &cryptox.EncodedPayload{
			Ciphertext: deref(ct),
			Salt:       *salt,
			Nonce:      deref(iv),
			Tag:        deref(tag),
		}
	}
	return &p, nil
}

// protectionColumns returns four NULLs for an unprotected post, so enabling
// and disabling protection always replaces every field together.
func protectionColumns(e *cryptox.EncodedPayload) (ct, salt, iv, tag *string) {
	if e == nil {
		return nil, nil, nil, nil
	}
	return &e.Ciphertext, &e.Salt, &e.Nonce, &e.Tag
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
