package models

import "time"

// GuestCredential protects a private anonymous comment.
type GuestCredential struct {
	PasswordHash string
	PasswordSalt string
}

// Comment is a reply to a post, written by a user or an anonymous guest.
type Comment struct {
	ID              string
	PostID          string
	AuthorID        *string
	ParentCommentID *string
	GuestName       string
	Content         string
	IsPrivate       bool
	Guest           *GuestCredential
	CreatedAt       time.Time
}
