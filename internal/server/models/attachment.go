package models

import "time"

// Attachment describes a file attached to a post. The bytes themselves are
// kept in object storage under StorageKey. For a protected post they are
// AES-GCM ciphertext keyed by the post's salt, with their own Nonce and Tag
// (base64); both are empty otherwise.
type Attachment struct {
	ID          string
	PostID      string
	FileName    string
	ContentType string
	Size        int64
	// SHA256 is the hex digest of the stored bytes, ciphertext when encrypted.
	SHA256     string
	StorageKey string
	Nonce      string
	Tag        string
	UploadedAt time.Time
}

// Encrypted reports whether the stored bytes are ciphertext.
func (a *Attachment) Encrypted() bool { return a.Nonce != "" && a.Tag != "" }
