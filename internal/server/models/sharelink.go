package models

import "time"

// ShareLink authorizes anonymous download of an Upload. The download token
// is stored raw in an indexed column so lookups are a point query; only the
// optional password is stored as a one-way hash.
type ShareLink struct {
	ID       string
	UploadID string
	// Token is the opaque URL-safe download token presented by clients.
	Token string
	// PasswordHash is empty when the link is not password-protected.
	PasswordHash string
	// ExpiresAt never exceeds the parent upload's expiry.
	ExpiresAt time.Time
	// FailedAttempts counts wrong-password presentations since the last
	// successful validation or window reset. It only grows in between.
	FailedAttempts int
	LastFailedAt   time.Time
	CreatedAt      time.Time
}
