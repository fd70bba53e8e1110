// Package cryptox holds the security primitives used by the PEngine server:
// PBKDF2 password hashing, password-derived AES-256-GCM content encryption and
// RFC 6238 TOTP codes.
//
// Everything in this package is a pure function of its inputs plus the system
// random source. Key derivation is deliberately slow (tens of milliseconds per
// call); callers that serve latency-sensitive requests are responsible for
// running it on a suitable goroutine.
package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Iterations is the PBKDF2 round count for both password digests and
	// content keys. It must not be lowered for stored hashes.
	Iterations = 600_000

	// SaltSize is the length of every random salt in bytes.
	SaltSize = 32

	// KeySize is the length of derived digests and AES-256 keys in bytes.
	KeySize = 32
)

// deriveKey stretches password with PBKDF2-HMAC-SHA-256.
func deriveKey(password, salt []byte, iterations int) []byte {
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New)
}

// randomBytes reads n bytes from crypto/rand.
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}
	return b, nil
}

// NewSalt returns a fresh SaltSize-byte salt.
func NewSalt() ([]byte, error) {
	return randomBytes(SaltSize)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
