// Package common defines shared constants and sentinel errors used across
// the ZTransfer core. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Upload ingestion errors.
	ErrSizeExceeded             = errors.New("upload exceeds maximum allowed size")
	ErrDuplicateWriteInProgress = errors.New("write already in progress for storage path")

	// Storage / metadata-layer errors.
	ErrStorageIO             = errors.New("storage i/o error")
	ErrMetadataInconsistency = errors.New("metadata inconsistency")

	// Share resolution errors. These exist for logging and diagnostics; the
	// resolver collapses the existence-leaking ones to ErrorUnauthorized at
	// its public boundary.
	ErrExpired             = errors.New("share expired")
	ErrPasswordRequired    = errors.New("password required")
	ErrPasswordMismatch    = errors.New("password mismatch")
	ErrLocked              = errors.New("too many failed attempts")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")

	// Outward-facing collapsed signal for NotFound/Expired/PasswordMismatch.
	ErrorUnauthorized = errors.New("unauthorized")

	ErrorInternal = errors.New("internal error")
)
