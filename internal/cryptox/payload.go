package cryptox

import (
	"encoding/base64"
)

// EncodedPayload is a ProtectedPayload with each field as an independent
// standard-base64 string, suitable for text columns. The fields must be
// stored and reassembled verbatim.
type EncodedPayload struct {
	Ciphertext string
	Salt       string
	Nonce      string
	Tag        string
}

// Encode converts p to its transport form.
func (p *ProtectedPayload) Encode() EncodedPayload {
	enc := base64.StdEncoding
	return EncodedPayload{
		Ciphertext: enc.EncodeToString(p.Ciphertext),
		Salt:       enc.EncodeToString(p.Salt),
		Nonce:      enc.EncodeToString(p.Nonce),
		Tag:        enc.EncodeToString(p.Tag),
	}
}

// Decode reassembles the binary payload. Any field that is not valid base64
// yields ErrAuthenticationFailed, the same error a tag mismatch produces.
func (e EncodedPayload) Decode() (*ProtectedPayload, error) {
	enc := base64.StdEncoding

	ct, err := enc.DecodeString(e.Ciphertext)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	salt, err := enc.DecodeString(e.Salt)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	nonce, err := enc.DecodeString(e.Nonce)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}
	tag, err := enc.DecodeString(e.Tag)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return &ProtectedPayload{Ciphertext: ct, Salt: salt, Nonce: nonce, Tag: tag}, nil
}

// Complete reports whether the key material fields are present. Ciphertext
// may legitimately be empty for an empty plaintext.
func (e EncodedPayload) Complete() bool {
	return e.Salt != "" && e.Nonce != "" && e.Tag != ""
}
