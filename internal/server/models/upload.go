// Package models defines server-side data models persisted in the database.
package models

import "time"

// UploadState tracks the lifecycle of a stored file. Legal transitions are
// ingesting→complete and complete→deleted, each exactly once.
type UploadState string

const (
	UploadStateIngesting UploadState = "ingesting"
	UploadStateComplete  UploadState = "complete"
	UploadStateDeleted   UploadState = "deleted"
)

// Upload describes one stored file. SizeBytes and SHA256 carry real values
// only once State is UploadStateComplete; rows in state ingesting are claims
// on a storage path and must stay invisible to share resolution.
type Upload struct {
	ID string
	// OwnerID is the account that uploaded the file. Account management
	// itself lives outside the core.
	OwnerID string
	// StoragePath is the blob key, derived from owner/date/id/sanitized name.
	StoragePath string
	// OriginalName is the sanitized client filename. Never used to build
	// the storage path beyond its final component.
	OriginalName string
	ContentType  string
	// SizeBytes is the number of bytes actually written, not the
	// client-declared size.
	SizeBytes int64
	// SHA256 is the hex-encoded digest of the stored content.
	SHA256    string
	State     UploadState
	CreatedAt time.Time
	ExpiresAt time.Time
}
