// Package models defines server-side data models persisted in the database.
// Models reference each other by identifier only.
package models

import "time"

// User is an account together with its credential.
type User struct {
	ID          string
	UserName    string
	Email       string
	Nickname    string
	Credential  Credential
	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// Credential is the secret material of an account. PasswordHash and
// PasswordSalt are base64 PBKDF2 output; they are never turned back into a
// password.
type Credential struct {
	PasswordHash string
	PasswordSalt string
	TOTP         TOTPState
}
