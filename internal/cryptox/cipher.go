package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16
)

// ErrAuthenticationFailed is returned by Decrypt for a wrong password and for
// any tampered or malformed payload. The two cases are deliberately not
// distinguished.
var ErrAuthenticationFailed = errors.New("content authentication failed")

// ProtectedPayload is the output of one encryption call. The four fields
// belong together: replacing any one of them makes decryption fail.
type ProtectedPayload struct {
	Ciphertext []byte
	Salt       []byte
	Nonce      []byte
	Tag        []byte
}

// ContentCipher encrypts arbitrary bytes under a key derived from a password.
type ContentCipher struct {
	iterations int
}

// NewContentCipher returns a cipher using the fixed production parameters.
func NewContentCipher() *ContentCipher {
	return &ContentCipher{iterations: Iterations}
}

// Encrypt seals plaintext under a key derived from password and a fresh salt.
func (c *ContentCipher) Encrypt(plaintext []byte, password string) (*ProtectedPayload, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	return c.EncryptWithSalt(plaintext, password, salt)
}

// EncryptWithSalt seals plaintext under a key derived from password and the
// given salt. Every call still draws a fresh nonce, so several payloads of
// one item (a post body and its attachments) can share a salt.
func (c *ContentCipher) EncryptWithSalt(plaintext []byte, password string, salt []byte) (*ProtectedPayload, error) {
	if len(salt) == 0 {
		return nil, errors.New("salt is required")
	}

	aead, err := c.newAEAD(password, salt)
	if err != nil {
		return nil, err
	}

	nonce, err := randomBytes(NonceSize)
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - TagSize

	return &ProtectedPayload{
		Ciphertext: sealed[:split:split],
		Salt:       append([]byte(nil), salt...),
		Nonce:      nonce,
		Tag:        sealed[split:],
	}, nil
}

// Decrypt verifies and opens p. A nil payload is a programmer error and
// panics.
func (c *ContentCipher) Decrypt(p *ProtectedPayload, password string) ([]byte, error) {
	if p == nil {
		panic("cryptox: Decrypt called with nil payload")
	}
	if len(p.Salt) == 0 || len(p.Nonce) != NonceSize || len(p.Tag) != TagSize {
		return nil, ErrAuthenticationFailed
	}

	aead, err := c.newAEAD(password, p.Salt)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	sealed := make([]byte, 0, len(p.Ciphertext)+TagSize)
	sealed = append(sealed, p.Ciphertext...)
	sealed = append(sealed, p.Tag...)

	plaintext, err := aead.Open(nil, p.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return plaintext, nil
}

func (c *ContentCipher) newAEAD(password string, salt []byte) (cipher.AEAD, error) {
	key := deriveKey([]byte(password), salt, c.iterations)
	defer wipe(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithTagSize(block, TagSize)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return aead, nil
}
