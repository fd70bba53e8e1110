package models

import "time"

// Passkey is a hardware credential registered by the external WebAuthn
// library. Only its public half and signature counter are kept.
type Passkey struct {
	ID           string
	UserID       string
	Name         string
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	UserHandle   []byte
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}
