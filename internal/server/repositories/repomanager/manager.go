package repomanager

import (
	"context"
	"database/sql"

	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/server/repositories/attachments"
	"github.com/pengine/pengine/internal/server/repositories/auditlogs"
	"github.com/pengine/pengine/internal/server/repositories/comments"
	"github.com/pengine/pengine/internal/server/repositories/groups"
	"github.com/pengine/pengine/internal/server/repositories/passkeys"
	"github.com/pengine/pengine/internal/server/repositories/posts"
	"github.com/pengine/pengine/internal/server/repositories/refreshtokens"
	"github.com/pengine/pengine/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a handle, so services can
// use the same repository types inside and outside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Passkeys(db dbx.DBTX) passkeys.Repository
	Posts(db dbx.DBTX) posts.Repository
	Attachments(db dbx.DBTX) attachments.Repository
	Comments(db dbx.DBTX) comments.Repository
	Groups(db dbx.DBTX) groups.Repository
	AuditLogs(db dbx.DBTX) auditlogs.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
