// Package services holds the server's business logic: account credentials,
// sessions, protected content and the audit trail. Services own transaction
// boundaries; repositories are obtained from a RepositoryManager bound to
// either the pool or the open transaction.
package services

import (
	"github.com/pengine/pengine/internal/cryptox"
)

// PasswordHasher is satisfied by *cryptox.PasswordHasher.
type PasswordHasher interface {
	Hash(password string) (cryptox.Digest, error)
	Verify(password, hash, salt string) bool
	NeedsRehash(hash, salt string) bool
}

// TOTPAuthenticator is satisfied by *cryptox.TOTP.
type TOTPAuthenticator interface {
	GenerateSecret() (string, error)
	ProvisioningURI(secret, accountLabel, issuer string) string
	ValidateCode(secret, code string) bool
}

// ContentCipher is satisfied by *cryptox.ContentCipher.
type ContentCipher interface {
	Encrypt(plaintext []byte, password string) (*cryptox.ProtectedPayload, error)
	EncryptWithSalt(plaintext []byte, password string, salt []byte) (*cryptox.ProtectedPayload, error)
	Decrypt(p *cryptox.ProtectedPayload, password string) ([]byte, error)
}

var (
	_ PasswordHasher    = (*cryptox.PasswordHasher)(nil)
	_ TOTPAuthenticator = (*cryptox.TOTP)(nil)
	_ ContentCipher     = (*cryptox.ContentCipher)(nil)
)
