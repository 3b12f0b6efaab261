// Package ingest implements the streaming upload pipeline: it writes the
// request body to blob storage in fixed-size chunks while accumulating a
// SHA-256 digest and enforcing the size ceiling, then records metadata and
// mints the download and delete tokens.
package ingest

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFilename returns a storage-friendly filename, preserving the
// extension. Spaces become underscores, everything outside [A-Za-z0-9._-]
// is stripped, and an empty result falls back to "file". Path separators
// and control characters never survive.
func SanitizeFilename(original string) string {
	if original == "" {
		return "file"
	}
	sanitized := strings.ReplaceAll(strings.TrimSpace(original), " ", "_")
	sanitized = unsafeChars.ReplaceAllString(sanitized, "")
	if sanitized == "" {
		return "file"
	}
	return sanitized
}

// StoragePath returns the deterministic blob key for a new upload:
// <owner_id>/<yyyy-mm>/<upload_id>/<sanitized_name>. Only the final
// component derives from user input, and it passes through the sanitizer.
func StoragePath(ownerID, uploadID, originalName string, createdAt time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		ownerID,
		createdAt.UTC().Format("2006-01"),
		uploadID,
		SanitizeFilename(originalName))
}
