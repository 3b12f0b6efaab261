package uploads

import (
	"context"
	"time"

	"github.com/ztransfer/ztransfer/internal/server/models"
)

// Repository persists Upload rows. The metadata store is the sole source of
// truth for upload existence and state.
type Repository interface {
	// Create inserts a new row in state ingesting. The unique constraint on
	// storage_path doubles as the single-writer-per-path guard; a second
	// claim fails with common.ErrDuplicateWriteInProgress.
	Create(ctx context.Context, upload *models.Upload) error

	// MarkComplete transitions ingesting→complete, recording the actual
	// byte count, content hash and (possibly sniffed) content type.
	MarkComplete(ctx context.Context, id string, sizeBytes int64, sha256, contentType string) error

	GetByID(ctx context.Context, id string) (*models.Upload, error)

	// SelectExpired returns up to limit complete uploads with
	// expires_at <= now, oldest first.
	SelectExpired(ctx context.Context, now time.Time, limit int) ([]*models.Upload, error)

	// SelectStaleIngesting returns ingesting claims created before cutoff,
	// left behind by crashed or aborted uploads.
	SelectStaleIngesting(ctx context.Context, cutoff time.Time, limit int) ([]*models.Upload, error)

	// Delete removes the row; share links and delete tokens cascade.
	Delete(ctx context.Context, id string) error
}
