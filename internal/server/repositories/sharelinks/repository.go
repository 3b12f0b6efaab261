package sharelinks

import (
	"context"
	"time"

	"github.com/ztransfer/ztransfer/internal/server/models"
)

// Repository persists ShareLink rows. The token column is unique and
// indexed, so lookups by presented token are point queries.
type Repository interface {
	Create(ctx context.Context, link *models.ShareLink) error

	// GetByToken returns the link for the presented download token or
	// common.ErrorNotFound.
	GetByToken(ctx context.Context, token string) (*models.ShareLink, error)

	// RegisterFailure bumps the failed-attempt counter on every link of the
	// upload. Scoping the counter to the upload keeps a reissued link from
	// resetting an attacker's budget.
	RegisterFailure(ctx context.Context, uploadID string, now time.Time) error

	// ResetFailures zeroes the counters for the upload after a successful
	// validation or an elapsed lockout window.
	ResetFailures(ctx context.Context, uploadID string) error

	// FailureState reports the highest failed-attempt count and most recent
	// failure across all links of the upload.
	FailureState(ctx context.Context, uploadID string) (int, time.Time, error)
}
