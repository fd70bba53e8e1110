package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pengine/pengine/internal/common"
)

func TestCheckPasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		inputs   []string
		ok       bool
	}{
		{name: "too short", password: "aB3$", ok: false},
		{name: "common word", password: "password", ok: false},
		{name: "keyboard walk", password: "qwertyuiop", ok: false},
		{name: "digit sequence", password: "12345678", ok: false},
		{name: "long passphrase", password: "correct horse battery staple", ok: true},
		{name: "random mix", password: "t7#Vq!m2Lz9p", ok: true},
		{name: "random letters", password: "qhxvbtrplmwkz7", ok: true},
		{name: "built from username", password: "qhxvbtrplmwkz7", inputs: []string{"qhxvbtrplmwkz"}, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPasswordStrength(tt.password, tt.inputs...)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, common.ErrorWeakPassword)
			}
		})
	}
}
