package models

import "time"

// AuditEntry records a security-relevant account action.
type AuditEntry struct {
	ID        string
	UserID    string
	Action    string
	IPAddress string
	UserAgent string
	Details   string
	Timestamp time.Time
}

// Audit actions.
const (
	AuditLogin          = "login"
	AuditPasswordChange = "password_change"
	AuditTOTPEnabled    = "totp_enabled"
	AuditTOTPDisabled   = "totp_disabled"
	AuditPasskeyAdded   = "passkey_added"
	AuditPasskeyRemoved = "passkey_removed"
)
