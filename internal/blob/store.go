// Package blob abstracts durable byte storage keyed by a deterministic,
// slash-separated path. The core only needs create/commit, ranged reads,
// delete and existence checks; everything else (buckets, directories,
// replication) is the backend's business.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist is returned when the requested key has no stored bytes.
// Backends translate their native not-found errors to this one.
var ErrNotExist = errors.New("blob does not exist")

// Writer receives the bytes of one upload. Until Commit returns nil the
// object must not be visible to readers; Abort discards whatever was
// written. Exactly one of Commit or Abort is called.
type Writer interface {
	io.Writer
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Store is the minimal interface required by the upload, download and
// retention paths.
type Store interface {
	// Create starts a new object at key. A partially written object is
	// never observable under key until Commit.
	Create(ctx context.Context, key string) (Writer, error)

	// Open returns a reader over [offset, offset+length) of the object.
	// length < 0 means "to the end". Callers validate ranges beforehand;
	// backends may still fail on a stale size with an i/o error.
	Open(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Delete removes the object. Deleting an absent key returns ErrNotExist.
	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)
}
