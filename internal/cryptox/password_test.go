package cryptox

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastHasher keeps the property tests quick; the algorithm is unchanged.
func fastHasher() *PasswordHasher { return &PasswordHasher{iterations: 1000} }

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := fastHasher()

	for _, pw := range []string{"hunter2", "", "пароль", "a very long passphrase with spaces"} {
		d, err := h.Hash(pw)
		require.NoError(t, err)
		assert.True(t, h.Verify(pw, d.Hash, d.Salt), "password %q must verify", pw)
	}
}

func TestPasswordHasher_WrongPasswordFails(t *testing.T) {
	h := fastHasher()

	d, err := h.Hash("correct horse")
	require.NoError(t, err)

	assert.False(t, h.Verify("correct hors", d.Hash, d.Salt))
	assert.False(t, h.Verify("Correct horse", d.Hash, d.Salt))
}

func TestPasswordHasher_FreshSaltEachCall(t *testing.T) {
	h := fastHasher()

	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestPasswordHasher_DigestShape(t *testing.T) {
	d, err := fastHasher().Hash("pw")
	require.NoError(t, err)

	hash, err := base64.StdEncoding.DecodeString(d.Hash)
	require.NoError(t, err)
	salt, err := base64.StdEncoding.DecodeString(d.Salt)
	require.NoError(t, err)

	assert.Len(t, hash, KeySize)
	assert.Len(t, salt, SaltSize)
}

func TestPasswordHasher_MalformedStoredValues(t *testing.T) {
	h := fastHasher()
	d, err := h.Hash("pw")
	require.NoError(t, err)

	tests := []struct {
		name string
		hash string
		salt string
	}{
		{"bad hash base64", "!!!", d.Salt},
		{"bad salt base64", d.Hash, "%%%"},
		{"empty salt", d.Hash, ""},
		{"short hash", base64.StdEncoding.EncodeToString([]byte("short")), d.Salt},
		{"both empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, h.Verify("pw", tt.hash, tt.salt))
			})
		})
	}
}

func TestPasswordHasher_NeedsRehash(t *testing.T) {
	h := fastHasher()
	d, err := h.Hash("pw")
	require.NoError(t, err)

	assert.False(t, h.NeedsRehash(d.Hash, d.Salt))
	assert.True(t, h.NeedsRehash(d.Hash, base64.StdEncoding.EncodeToString([]byte("16-byte-old-salt"))))
	assert.True(t, h.NeedsRehash("garbage", d.Salt))
}

func TestNewPasswordHasher_ProductionParameters(t *testing.T) {
	h := NewPasswordHasher()
	assert.Equal(t, 600_000, h.iterations)

	d, err := h.Hash("production")
	require.NoError(t, err)
	assert.True(t, h.Verify("production", d.Hash, d.Salt))
}
