package access

import (
	"errors"
	"time"

	"github.com/pengine/pengine/internal/cryptox"
)

// ErrNotVisible is returned by Release when the decision forbids access.
var ErrNotVisible = errors.New("content not visible")

// Metadata is what may be released for a visible item before its body is
// unlocked.
type Metadata struct {
	Title     string
	AuthorID  string
	CreatedAt time.Time
	UpdatedAt *time.Time
	PublishAt *time.Time
}

// Released is the content handed to the caller.
type Released struct {
	Metadata
	// Body is empty while Locked is true.
	Body   []byte
	Locked bool
}

// Decrypter opens protected payloads.
type Decrypter interface {
	Decrypt(p *cryptox.ProtectedPayload, password string) ([]byte, error)
}

// Release applies a decision to a content item. Unprotected bodies are
// returned as is. Protected bodies stay locked until password decrypts them;
// an empty password returns metadata only, a wrong one returns
// cryptox.ErrAuthenticationFailed.
func Release(d Decision, meta Metadata, plain []byte, protected *cryptox.ProtectedPayload, password string, dec Decrypter) (*Released, error) {
	if !d.Visible {
		return nil, ErrNotVisible
	}
	if !d.RequiresPassword {
		return &Released{Metadata: meta, Body: plain}, nil
	}
	if password == "" || protected == nil {
		return &Released{Metadata: meta, Locked: true}, nil
	}

	body, err := dec.Decrypt(protected, password)
	if err != nil {
		return &Released{Metadata: meta, Locked: true}, err
	}
	return &Released{Metadata: meta, Body: body}, nil
}
