package models

import "time"

// DeleteToken entitles deletion of an Upload independent of owner auth.
// Only the one-way hash of the secret is kept; the raw value is returned to
// the uploader exactly once at creation time.
type DeleteToken struct {
	UploadID  string
	TokenHash string
	CreatedAt time.Time
}
