package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pengine/pengine/internal/common"
	"github.com/pengine/pengine/internal/dbx"
	"github.com/pengine/pengine/internal/logging"
	"github.com/pengine/pengine/internal/server/models"
	"github.com/pengine/pengine/internal/server/repositories/repomanager"
)

// dummyPassword is hashed once and verified against whenever a login names
// an unknown account.
const dummyPassword = "pengine-unknown-account"

// CredentialRegistry owns account credentials: hashed passwords, the TOTP
// enrollment state and passkey records.
type CredentialRegistry struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      PasswordHasher
	totp        TOTPAuthenticator
	audit       *AuditService
	logger      logging.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummy     struct{ hash, salt string }
}

func NewCredentialRegistry(
	db *sql.DB,
	m repomanager.RepositoryManager,
	hasher PasswordHasher,
	totp TOTPAuthenticator,
	audit *AuditService,
	l logging.Logger,
) *CredentialRegistry {
	return &CredentialRegistry{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		totp:        totp,
		audit:       audit,
		logger:      l.With("module", "credentials"),
		now:         time.Now,
	}
}

// Register creates an account. The password must pass CheckPasswordStrength.
func (r *CredentialRegistry) Register(ctx context.Context, username, email, nickname, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", common.ErrorValidation)
	}
	if err := CheckPasswordStrength(password, username, email, nickname); err != nil {
		return nil, err
	}

	digest, err := r.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		UserName: username,
		Email:    email,
		Nickname: nickname,
		Credential: models.Credential{
			PasswordHash: digest.Hash,
			PasswordSalt: digest.Salt,
			TOTP:         models.TOTPUnconfigured{},
		},
	}
	created, err := r.repomanager.Users(r.db).Create(ctx, user)
	if err != nil {
		return nil, err
	}
	r.logger.Info(ctx, "user registered", "user_id", created.ID)
	return created, nil
}

// Authenticate checks a username and password. An unknown user and a wrong
// password both return false with a nil error.
func (r *CredentialRegistry) Authenticate(ctx context.Context, username, password string) (*models.User, bool, error) {
	user, err := r.repomanager.Users(r.db).GetByLogin(ctx, username)
	if errors.Is(err, common.ErrorNotFound) {
		r.verifyDummy(password)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	cred := user.Credential
	if !r.hasher.Verify(password, cred.PasswordHash, cred.PasswordSalt) {
		return nil, false, nil
	}

	if r.hasher.NeedsRehash(cred.PasswordHash, cred.PasswordSalt) {
		r.rehash(ctx, user, password)
	}
	return user, true, nil
}

// verifyDummy spends the same work as a real verification.
func (r *CredentialRegistry) verifyDummy(password string) {
	r.dummyOnce.Do(func() {
		d, err := r.hasher.Hash(dummyPassword)
		if err == nil {
			r.dummy.hash, r.dummy.salt = d.Hash, d.Salt
		}
	})
	r.hasher.Verify(password, r.dummy.hash, r.dummy.salt)
}

func (r *CredentialRegistry) rehash(ctx context.Context, user *models.User, password string) {
	digest, err := r.hasher.Hash(password)
	if err == nil {
		err = r.repomanager.Users(r.db).UpdatePassword(ctx, user.ID, digest.Hash, digest.Salt)
	}
	if err != nil {
		r.logger.Warn(ctx, "password rehash failed", "user_id", user.ID, "error", err)
		return
	}
	user.Credential.PasswordHash = digest.Hash
	user.Credential.PasswordSalt = digest.Salt
}

// ChangePassword replaces the password after verifying the current one and
// revokes every refresh token of the account. It returns false when the user
// does not exist or current is wrong. next is checked against the account's
// username, email and nickname as it is at Register.
func (r *CredentialRegistry) ChangePassword(ctx context.Context, userID, current, next string) (bool, error) {
	if err := CheckPasswordStrength(next); err != nil {
		return false, err
	}

	changed := false
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := r.repomanager.Users(tx)

		user, err := users.GetForUpdate(ctx, userID)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !r.hasher.Verify(current, user.Credential.PasswordHash, user.Credential.PasswordSalt) {
			return nil
		}
		if err := CheckPasswordStrength(next, user.UserName, user.Email, user.Nickname); err != nil {
			return err
		}

		digest, err := r.hasher.Hash(next)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		if err := users.UpdatePassword(ctx, userID, digest.Hash, digest.Salt); err != nil {
			return err
		}
		if err := r.repomanager.RefreshTokens(tx).DeleteForUser(ctx, userID); err != nil {
			return err
		}
		changed = true
		return r.audit.record(ctx, tx, userID, models.AuditPasswordChange, "")
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// BeginTOTP issues a fresh secret and stores it as pending. Calling it again
// before confirmation replaces the pending secret.
func (r *CredentialRegistry) BeginTOTP(ctx context.Context, userID, issuer string) (secret, uri string, err error) {
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := r.repomanager.Users(tx)

		user, err := users.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if models.TOTPEnabledFor(user.Credential.TOTP) {
			return common.ErrTOTPAlreadyEnabled
		}

		secret, err = r.totp.GenerateSecret()
		if err != nil {
			return fmt.Errorf("generate totp secret: %w", err)
		}
		if err := users.UpdateTOTP(ctx, userID, models.TOTPPending{Secret: secret}); err != nil {
			return err
		}
		uri = r.totp.ProvisioningURI(secret, user.UserName, issuer)
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return secret, uri, nil
}

// ConfirmTOTP enables two-factor login if code matches the pending secret.
// A wrong code returns false and leaves the enrollment pending.
func (r *CredentialRegistry) ConfirmTOTP(ctx context.Context, userID, code string) (bool, error) {
	confirmed := false
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		users := r.repomanager.Users(tx)

		user, err := users.GetForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		pending, ok := user.Credential.TOTP.(models.TOTPPending)
		if !ok {
			return common.ErrTOTPNotPending
		}
		if !r.totp.ValidateCode(pending.Secret, code) {
			return nil
		}

		if err := users.UpdateTOTP(ctx, userID, models.TOTPEnabled{Secret: pending.Secret}); err != nil {
			return err
		}
		confirmed = true
		return r.audit.record(ctx, tx, userID, models.AuditTOTPEnabled, "")
	})
	if err != nil {
		return false, err
	}
	return confirmed, nil
}

// DisableTOTP removes the secret, pending or enabled.
func (r *CredentialRegistry) DisableTOTP(ctx context.Context, userID string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := r.repomanager.Users(tx).UpdateTOTP(ctx, userID, models.TOTPUnconfigured{}); err != nil {
			return err
		}
		return r.audit.record(ctx, tx, userID, models.AuditTOTPDisabled, "")
	})
}

// VerifySecondFactor checks code against the enabled secret. It returns
// false when two-factor login is not enabled.
func (r *CredentialRegistry) VerifySecondFactor(ctx context.Context, userID, code string) (bool, error) {
	user, err := r.repomanager.Users(r.db).GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return r.verifyEnabled(user, code), nil
}

func (r *CredentialRegistry) verifyEnabled(user *models.User, code string) bool {
	enabled, ok := user.Credential.TOTP.(models.TOTPEnabled)
	if !ok {
		return false
	}
	return r.totp.ValidateCode(enabled.Secret, code)
}

// AddPasskey stores a credential produced by a completed WebAuthn
// registration.
func (r *CredentialRegistry) AddPasskey(ctx context.Context, p *models.Passkey) (*models.Passkey, error) {
	if p.UserID == "" || len(p.CredentialID) == 0 || len(p.PublicKey) == 0 {
		return nil, fmt.Errorf("%w: passkey needs user, credential id and public key", common.ErrorValidation)
	}

	var created *models.Passkey
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		created, err = r.repomanager.Passkeys(tx).Create(ctx, p)
		if err != nil {
			return err
		}
		return r.audit.record(ctx, tx, p.UserID, models.AuditPasskeyAdded, p.Name)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// ListPasskeys returns the user's passkeys, newest first.
func (r *CredentialRegistry) ListPasskeys(ctx context.Context, userID string) ([]*models.Passkey, error) {
	return r.repomanager.Passkeys(r.db).ListByUser(ctx, userID)
}

// PasskeyOwner returns the user a credential ID is registered to.
func (r *CredentialRegistry) PasskeyOwner(ctx context.Context, credentialID []byte) (string, error) {
	p, err := r.repomanager.Passkeys(r.db).GetByCredentialID(ctx, credentialID)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

func (r *CredentialRegistry) CredentialBelongsTo(ctx context.Context, credentialID []byte, userID string) (bool, error) {
	owner, err := r.PasskeyOwner(ctx, credentialID)
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == userID, nil
}

// RemovePasskey deletes one of the user's passkeys. It returns false when no
// such passkey belongs to the user.
func (r *CredentialRegistry) RemovePasskey(ctx context.Context, userID, passkeyID string) (bool, error) {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := r.repomanager.Passkeys(tx).Delete(ctx, userID, passkeyID); err != nil {
			return err
		}
		return r.audit.record(ctx, tx, userID, models.AuditPasskeyRemoved, passkeyID)
	})
	if errors.Is(err, common.ErrorNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateSignCount is the only write path for a passkey counter. A count
// lower than the stored one means a cloned authenticator: it returns
// ErrSignCountRegression and writes nothing. Equal counts are accepted,
// since authenticators without a counter always report zero.
func (r *CredentialRegistry) UpdateSignCount(ctx context.Context, passkeyID string, count uint32) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := r.repomanager.Passkeys(tx)

		p, err := repo.GetForUpdate(ctx, passkeyID)
		if err != nil {
			return err
		}
		if count < p.SignCount {
			r.logger.Warn(ctx, "passkey sign count regression",
				"passkey_id", passkeyID, "user_id", p.UserID, "stored", p.SignCount, "reported", count)
			return common.ErrSignCountRegression
		}
		return repo.UpdateSignCount(ctx, passkeyID, count, r.now())
	})
}
