package models

import "time"

// RefreshToken is an opaque, server-stored session token. It is rotated on
// every refresh and revoked when the password changes.
type RefreshToken struct {
	ID        string
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}
