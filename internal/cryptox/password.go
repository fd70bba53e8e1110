package cryptox

import (
	"crypto/subtle"
	"encoding/base64"
)

// Digest is a salted password hash as stored at rest. Both fields are
// standard base64.
type Digest struct {
	Hash string
	Salt string
}

// PasswordHasher derives and verifies PBKDF2-HMAC-SHA-256 password digests.
// The zero value is not usable; construct it with NewPasswordHasher.
type PasswordHasher struct {
	iterations int
}

// NewPasswordHasher returns a hasher using the fixed production parameters.
func NewPasswordHasher() *PasswordHasher {
	return &PasswordHasher{iterations: Iterations}
}

// Hash derives a digest for password under a fresh random salt.
func (h *PasswordHasher) Hash(password string) (Digest, error) {
	salt, err := NewSalt()
	if err != nil {
		return Digest{}, err
	}
	key := deriveKey([]byte(password), salt, h.iterations)
	d := Digest{
		Hash: base64.StdEncoding.EncodeToString(key),
		Salt: base64.StdEncoding.EncodeToString(salt),
	}
	wipe(key)
	return d, nil
}

// Verify recomputes the digest of password with the stored salt and compares
// it in constant time. Malformed stored values verify as false.
func (h *PasswordHasher) Verify(password, hash, salt string) bool {
	saltBytes, err := base64.StdEncoding.DecodeString(salt)
	if err != nil || len(saltBytes) == 0 {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(want) != KeySize {
		return false
	}

	got := deriveKey([]byte(password), saltBytes, h.iterations)
	defer wipe(got)

	return subtle.ConstantTimeCompare(want, got) == 1
}

// NeedsRehash reports whether a stored digest does not have the shape the
// current parameters produce, so it should be replaced on the next successful
// login.
func (h *PasswordHasher) NeedsRehash(hash, salt string) bool {
	hb, err := base64.StdEncoding.DecodeString(hash)
	if err != nil || len(hb) != KeySize {
		return true
	}
	sb, err := base64.StdEncoding.DecodeString(salt)
	return err != nil || len(sb) != SaltSize
}
