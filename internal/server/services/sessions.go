package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/logging"
	"github.com/pengine/pengine/internal/server/auth"
	"github.com/pengine/pengine/internal/server/config"
	"github.com/pengine/pengine/internal/server/models"
	"github.com/pengine/pengine/internal/server/repositories/repomanager"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// SessionService signs users in and rotates their tokens. Credentials are
// checked by the CredentialRegistry.
type SessionService struct {
	db                           *sql.DB
	repomanager                  repomanager.RepositoryManager
	credentials                  *CredentialRegistry
	audit                        *AuditService
	logger                       logging.Logger
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	now                          func() time.Time
}

func NewSessionService(
	db *sql.DB,
	m repomanager.RepositoryManager,
	credentials *CredentialRegistry,
	audit *AuditService,
	cfg *config.Config,
	l logging.Logger,
) *SessionService {
	return &SessionService{
		db:                           db,
		repomanager:                  m,
		credentials:                  credentials,
		audit:                        audit,
		logger:                       l.With("module", "sessions"),
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		now:                          time.Now,
	}
}

// Login checks the password and, when two-factor login is enabled, the TOTP
// code. A missing code yields ErrSecondFactorRequired so the client can
// prompt for one; every other failure is ErrorUnauthorized.
func (s *SessionService) Login(ctx context.Context, userName, password, totpCode string) (*TokenPair, error) {
	user, ok, err := s.credentials.Authenticate(ctx, userName, password)
	if err != nil {
		s.logger.Error(ctx, "authenticate", "error", err)
		return nil, common.ErrorInternal
	}
	if !ok {
		return nil, common.ErrorUnauthorized
	}

	if models.TOTPEnabledFor(user.Credential.TOTP) {
		if totpCode == "" {
			return nil, common.ErrSecondFactorRequired
		}
		if !s.credentials.verifyEnabled(user, totpCode) {
			return nil, common.ErrorUnauthorized
		}
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).TouchLastLogin(ctx, user.ID, s.now()); err != nil {
			return err
		}
		var err error
		if pair, err = s.generateTokenPair(ctx, user.ID, tx); err != nil {
			return err
		}
		return s.audit.record(ctx, tx, user.ID, models.AuditLogin, "")
	})
	if err != nil {
		s.logger.Error(ctx, "login", "user_id", user.ID, "error", err)
		return nil, common.ErrorInternal
	}

	s.logger.Info(ctx, "login succeeded", "user_id", user.ID)
	return pair, nil
}

// RefreshToken validates a refresh token, rotates it transactionally, and
// returns a fresh TokenPair. Expired tokens yield ErrRefreshTokenExpired. A
// token already consumed by a concurrent rotation yields ErrorUnauthorized.
func (s *SessionService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	token, err := s.repomanager.RefreshTokens(s.db).Find(ctx, refreshToken)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, common.ErrorUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expires.Before(s.now()) {
		return nil, common.ErrRefreshTokenExpired
	}

	var pair *TokenPair
	if err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		err := s.repomanager.RefreshTokens(tx).Delete(ctx, refreshToken)
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		if err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, tx)
		return genErr
	}); err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	err := s.repomanager.RefreshTokens(s.db).Delete(ctx, refreshToken)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	return err
}

// UserIDFromAccessToken validates an access token and returns its subject.
func (s *SessionService) UserIDFromAccessToken(token string) (string, error) {
	return auth.GetUserIDFromToken(token, s.jwtSecret)
}

func (s *SessionService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	now := s.now()
	access, err := auth.GenerateTokenAt(userID, s.jwtSecret, s.accessTokenValidityDuration, now)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, userID, refresh, now.Add(s.refreshTokenValidityDuration)); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}
