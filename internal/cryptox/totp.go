package cryptox

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// TOTPSecretSize is the raw secret length in bytes (160 bits).
	TOTPSecretSize = 20
	// TOTPDigits is the code length.
	TOTPDigits = 6
	// TOTPPeriod is the time step.
	TOTPPeriod = 30 * time.Second
	// TOTPSkew is how many adjacent steps on each side are accepted.
	TOTPSkew = 1
)

// ErrEmptySecret is returned by CodeAt for a secret with no key bytes.
var ErrEmptySecret = errors.New("totp secret is empty")

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

// TOTP generates and checks RFC 6238 codes over HMAC-SHA-1.
type TOTP struct {
	now func() time.Time
}

// TOTPOption configures a TOTP.
type TOTPOption func(*TOTP)

// WithClock replaces the wall clock. The function is called on every
// validation.
func WithClock(now func() time.Time) TOTPOption {
	return func(t *TOTP) { t.now = now }
}

// NewTOTP returns an authenticator reading time.Now unless overridden.
func NewTOTP(opts ...TOTPOption) *TOTP {
	t := &TOTP{now: time.Now}
	for _, o := range opts {
		o(t)
	}
	return t
}

// GenerateSecret returns a fresh secret, base32-encoded without padding.
func (t *TOTP) GenerateSecret() (string, error) {
	raw, err := randomBytes(TOTPSecretSize)
	if err != nil {
		return "", err
	}
	defer wipe(raw)
	return base32NoPad.EncodeToString(raw), nil
}

// ProvisioningURI builds the otpauth URI consumed by authenticator apps.
func (t *TOTP) ProvisioningURI(secret, accountLabel, issuer string) string {
	iss := escapeDataString(issuer)
	label := escapeDataString(accountLabel)
	return fmt.Sprintf("otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=%d&period=%d",
		iss, label, secret, iss, TOTPDigits, int(TOTPPeriod/time.Second))
}

// ValidateCode checks code against the current time step and its neighbours.
// It panics if secret is empty: a missing secret is a caller bug, not a wrong
// code.
func (t *TOTP) ValidateCode(secret, code string) bool {
	return t.ValidateCodeAt(secret, code, t.now())
}

// ValidateCodeAt is ValidateCode at an explicit instant.
func (t *TOTP) ValidateCodeAt(secret, code string, at time.Time) bool {
	if len(code) != TOTPDigits {
		return false
	}
	if secret == "" {
		panic("cryptox: ValidateCode called with empty TOTP secret")
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return false
	}
	defer wipe(key)

	step := timeStep(at)
	ok := 0
	for i := -TOTPSkew; i <= TOTPSkew; i++ {
		want := computeCode(key, uint64(step+int64(i)))
		ok |= subtle.ConstantTimeCompare([]byte(code), []byte(want))
	}
	return ok == 1
}

// CodeAt returns the code for the time step containing at. A secret that
// decodes to no key bytes yields ErrEmptySecret.
func (t *TOTP) CodeAt(secret string, at time.Time) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}
	defer wipe(key)
	return computeCode(key, uint64(timeStep(at))), nil
}

func timeStep(at time.Time) int64 {
	return at.Unix() / int64(TOTPPeriod/time.Second)
}

func computeCode(key []byte, counter uint64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", TOTPDigits, bin%1_000_000)
}

func decodeSecret(secret string) ([]byte, error) {
	s := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	s = strings.TrimRight(s, "=")
	key, err := base32NoPad.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	if len(key) == 0 {
		return nil, ErrEmptySecret
	}
	return key, nil
}

// escapeDataString percent-encodes everything outside the RFC 3986
// unreserved set, with space as %20.
func escapeDataString(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
