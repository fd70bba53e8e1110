package users

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

const selectColumns = `id, username, email, nickname, password_hash, password_salt, totp_secret, totp_enabled, created_at, last_login_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	secret, enabled := models.TOTPColumns(totpOrUnconfigured(user.Credential.TOTP))

	query :=
		`INSERT INTO users (username, email, nickname, password_hash, password_salt, totp_secret, totp_enabled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		user.UserName, user.Email, user.Nickname,
		user.Credential.PasswordHash, user.Credential.PasswordSalt,
		secret, enabled,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByLogin(ctx context.Context, userName string) (*models.User, error) {
	query := `SELECT ` + selectColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, userName))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + selectColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + selectColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, hash, salt string) error {
	query := `UPDATE users SET password_hash = $2, password_salt = $3 WHERE id = $1`
	return r.execOne(ctx, query, id, hash, salt)
}

// UpdateTOTP writes both TOTP columns in one statement, so the stored state
// always matches one of the three variants.
func (r *PostgresRepository) UpdateTOTP(ctx context.Context, id string, state models.TOTPState) error {
	secret, enabled := models.TOTPColumns(totpOrUnconfigured(state))
	query := `UPDATE users SET totp_secret = $2, totp_enabled = $3 WHERE id = $1`
	return r.execOne(ctx, query, id, secret, enabled)
}

func (r *PostgresRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET last_login_at = $2 WHERE id = $1`
	return r.execOne(ctx, query, id, at)
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		u       models.User
		secret  *string
		enabled bool
	)
	err := row.Scan(
		&u.ID, &u.UserName, &u.Email, &u.Nickname,
		&u.Credential.PasswordHash, &u.Credential.PasswordSalt,
		&secret, &enabled,
		&u.CreatedAt, &u.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	state, err := models.TOTPFromColumns(secret, enabled)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.Credential.TOTP = state
	return &u, nil
}

func totpOrUnconfigured(s models.TOTPState) models.TOTPState {
	if s == nil {
		return models.TOTPUnconfigured{}
	}
	return s
}
