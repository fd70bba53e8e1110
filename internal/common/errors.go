// Package common defines shared constants and sentinel errors used across
// the PEngine server layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorForbidden    = errors.New("forbidden")

	// Validation errors.
	ErrorValidation   = errors.New("validation error")
	ErrorWeakPassword = errors.New("password too weak")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// Second-factor and credential state errors.
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrTOTPAlreadyEnabled   = errors.New("totp already enabled")
	ErrTOTPNotPending       = errors.New("totp enrollment not pending")
	ErrCorruptCredential    = errors.New("corrupt credential state")

	// ErrSignCountRegression is returned when a passkey reports a signature
	// counter lower than the stored one, which indicates a cloned authenticator.
	ErrSignCountRegression = errors.New("passkey sign count regression")

	// Content errors.
	ErrWrongContentPassword = errors.New("wrong content password")
)
