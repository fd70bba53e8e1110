package services

import (
	"fmt"
	"unicode/utf8"

	"github.com/nbutton23/zxcvbn-go"

	"github.com/pengine/pengine/internal/common"
)

const (
	// MinPasswordLength is counted in runes.
	MinPasswordLength = 8
	// MinPasswordScore is the lowest accepted zxcvbn score (0..4).
	MinPasswordScore = 2
)

// CheckPasswordStrength rejects new passwords that are short or easy to
// guess. userInputs (username, email) are penalised when they appear in the
// password. It applies to new account and changed passwords only, never to
// verification of existing ones.
func CheckPasswordStrength(password string, userInputs ...string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Errorf("%w: at least %d characters required", common.ErrorWeakPassword, MinPasswordLength)
	}
	res := zxcvbn.PasswordStrength(password, userInputs)
	if res.Score < MinPasswordScore {
		return fmt.Errorf("%w: score %d of 4", common.ErrorWeakPassword, res.Score)
	}
	return nil
}
