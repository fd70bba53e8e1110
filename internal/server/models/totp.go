package models

import (
	"github.com/pengine/pengine/internal/common"
)

// TOTPState is the two-factor enrollment state of an account. It is one of
// TOTPUnconfigured, TOTPPending or TOTPEnabled; an enabled state without a
// secret cannot be constructed.
type TOTPState interface {
	totpState()
}

// TOTPUnconfigured means no secret is stored.
type TOTPUnconfigured struct{}

// TOTPPending holds a secret that was issued but not yet confirmed with a
// valid code. The account is not protected by it.
type TOTPPending struct{ Secret string }

// TOTPEnabled holds a confirmed secret; logins require a code.
type TOTPEnabled struct{ Secret string }

func (TOTPUnconfigured) totpState() {}
func (TOTPPending) totpState()      {}
func (TOTPEnabled) totpState()      {}

// TOTPEnabledFor reports whether s requires a second factor.
func TOTPEnabledFor(s TOTPState) bool {
	_, ok := s.(TOTPEnabled)
	return ok
}

// TOTPColumns flattens s into its persisted form.
func TOTPColumns(s TOTPState) (secret *string, enabled bool) {
	switch v := s.(type) {
	case TOTPPending:
		return &v.Secret, false
	case TOTPEnabled:
		return &v.Secret, true
	}
	return nil, false
}

// TOTPFromColumns rebuilds the state from its persisted form. A row claiming
// to be enabled without a secret is rejected.
func TOTPFromColumns(secret *string, enabled bool) (TOTPState, error) {
	hasSecret := secret != nil && *secret != ""
	switch {
	case enabled && !hasSecret:
		return nil, common.ErrCorruptCredential
	case enabled:
		return TOTPEnabled{Secret: *secret}, nil
	case hasSecret:
		return TOTPPending{Secret: *secret}, nil
	}
	return TOTPUnconfigured{}, nil
}
