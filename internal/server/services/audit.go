package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/logging"
	"github.com/pengine/pengine/internal/server/models"
	"github.com/pengine/pengine/internal/server/repositories/repomanager"
)

// MaxAuditPageSize caps ForUser page sizes.
const MaxAuditPageSize = 100

// RequestInfo describes the client behind a request, for the audit trail.
type RequestInfo struct {
	IPAddress string
	UserAgent string
}

type requestInfoKey struct{}

// WithRequestInfo attaches client details to ctx.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFrom returns the client details attached to ctx, if any.
func RequestInfoFrom(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// AuditPage is one page of a user's audit trail, newest first.
type AuditPage struct {
	Entries  []*models.AuditEntry
	Total    int
	Page     int
	PageSize int
}

type AuditService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	logger      logging.Logger
}

func NewAuditService(db *sql.DB, m repomanager.RepositoryManager, l logging.Logger) *AuditService {
	return &AuditService{db: db, repomanager: m, logger: l.With("module", "audit")}
}

// Log records action for userID with the client details found in ctx.
func (s *AuditService) Log(ctx context.Context, userID, action, details string) error {
	return s.record(ctx, s.db, userID, action, details)
}

// record writes through db, which may be an open transaction so the entry
// commits or rolls back with the change it describes.
func (s *AuditService) record(ctx context.Context, db dbx.DBTX, userID, action, details string) error {
	info := RequestInfoFrom(ctx)
	entry := &models.AuditEntry{
		UserID:    userID,
		Action:    action,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		Details:   details,
	}
	if err := s.repomanager.AuditLogs(db).Create(ctx, entry); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	s.logger.Debug(ctx, "audit", "user_id", userID, "action", action)
	return nil
}

// ForUser returns page (1-based) of the user's entries.
func (s *AuditService) ForUser(ctx context.Context, userID string, page, pageSize int) (*AuditPage, error) {
	if page < 1 || pageSize < 1 {
		return nil, fmt.Errorf("%w: page and page size must be positive", common.ErrorValidation)
	}
	if pageSize > MaxAuditPageSize {
		pageSize = MaxAuditPageSize
	}

	entries, total, err := s.repomanager.AuditLogs(s.db).ListByUser(ctx, userID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}
	return &AuditPage{Entries: entries, Total: total, Page: page, PageSize: pageSize}, nil
}
