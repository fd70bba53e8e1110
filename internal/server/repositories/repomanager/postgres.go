// Package repomanager provides the PostgreSQL RepositoryManager, wiring
// repository constructors and the embedded goose schema.
package repomanager

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/server/migrations"
	"github.com/pengine/pengine/internal/server/repositories/attachments"
	"github.com/pengine/pengine/internal/server/repositories/auditlogs"
	"github.com/pengine/pengine/internal/server/repositories/comments"
	"github.com/pengine/pengine/internal/server/repositories/groups"
	"github.com/pengine/pengine/internal/server/repositories/passkeys"
	"github.com/pengine/pengine/internal/server/repositories/posts"
	"github.com/pengine/pengine/internal/server/repositories/refreshtokens"
	"github.com/pengine/pengine/internal/server/repositories/users"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories. Group
// memberships come from Redis when a client was supplied.
type PostgresRepositoryManager struct {
	redis groups.SetClient
}

func (m *PostgresRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Passkeys(db dbx.DBTX) passkeys.Repository {
	return passkeys.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Posts(db dbx.DBTX) posts.Repository {
	return posts.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Attachments(db dbx.DBTX) attachments.Repository {
	return attachments.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) Comments(db dbx.DBTX) comments.Repository {
	return comments.NewPostgresRepository(db)
}

// Groups ignores db when memberships live in Redis.
func (m *PostgresRepositoryManager) Groups(db dbx.DBTX) groups.Repository {
	if m.redis != nil {
		return groups.NewRedisRepository(m.redis)
	}
	return groups.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) AuditLogs(db dbx.DBTX) auditlogs.Repository {
	return auditlogs.NewPostgresRepository(db)
}

func (m *PostgresRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// NewPostgresRepositoryManager returns a manager. rdb may be nil.
func NewPostgresRepositoryManager(rdb groups.SetClient) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{redis: rdb}
}
