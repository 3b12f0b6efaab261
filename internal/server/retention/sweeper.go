// Package retention reconciles the metadata and blob stores: it removes
// expired uploads, reclaims claims left behind by crashed ingests, and
// backs the owner/delete-token deletion path.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ztransfer/ztransfer/internal/blob"
	"github.com/ztransfer/ztransfer/internal/common"
	"github.com/ztransfer/ztransfer/internal/logging"
	"github.com/ztransfer/ztransfer/internal/server/config"
	"github.com/ztransfer/ztransfer/internal/server/repositories/deletetokens"
	"github.com/ztransfer/ztransfer/internal/server/repositories/sharelinks"
	"github.com/ztransfer/ztransfer/internal/server/repositories/uploads"
	"github.com/ztransfer/ztransfer/internal/server/tokens"
)

// Summary aggregates one sweep pass. Per-record failures are logged and
// counted rather than surfaced, so a sweep always makes forward progress on
// the records that do succeed.
type Summary struct {
	// Reconciled counts expired uploads whose blob and metadata are both gone.
	Reconciled int
	// Reclaimed counts stale ingesting claims that were cleaned up.
	Reclaimed int
	// Failed counts records skipped due to errors; they stay for the next sweep.
	Failed int
}

// Success reports whether every record reconciled.
func (s Summary) Success() bool { return s.Failed == 0 }

// Sweeper deletes expired uploads blob-first, so a crash between the two
// steps leaves a detectable orphaned metadata row instead of an invisible
// orphaned blob.
type Sweeper struct {
	cfg          *config.Config
	logger       logging.Logger
	uploads      uploads.Repository
	shareLinks   sharelinks.Repository
	deleteTokens deletetokens.Repository
	blobs        blob.Store
	minter       *tokens.Minter

	running atomic.Bool
	now     func() time.Time
}

func NewSweeper(cfg *config.Config, logger logging.Logger, um uploads.Repository,
	sm sharelinks.Repository, dm deletetokens.Repository, blobs blob.Store, minter *tokens.Minter) *Sweeper {
	return &Sweeper{
		cfg:          cfg,
		logger:       logger,
		uploads:      um,
		shareLinks:   sm,
		deleteTokens: dm,
		blobs:        blobs,
		minter:       minter,
		now:          time.Now,
	}
}

// Sweep removes all uploads expired at now, plus stale ingesting claims.
// It is idempotent: a second pass over the same set deletes nothing. Only
// one sweep runs at a time process-wide; a concurrent invocation returns
// an empty summary immediately.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, nil
	}
	defer s.running.Store(false)

	var summary Summary

	batch := s.cfg.SweepBatchSize
	if batch <= 0 {
		batch = 128
	}

	// Failed rows stay in the store and reappear in later batches of the
	// same pass; remember them so the summary counts records, not attempts.
	failedIDs := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		expired, err := s.uploads.SelectExpired(ctx, now, batch)
		if err != nil {
			return summary, fmt.Errorf("select expired: %w", err)
		}
		if len(expired) == 0 {
			break
		}

		progressed := false
		for _, upload := range expired {
			if _, seen := failedIDs[upload.ID]; seen {
				continue
			}
			if err := s.removeUpload(ctx, upload.ID, upload.StoragePath); err != nil {
				s.logger.Warn(ctx, "sweep: record not reconciled",
					"upload_id", upload.ID, "error", err)
				failedIDs[upload.ID] = struct{}{}
				summary.Failed++
				continue
			}
			summary.Reconciled++
			progressed = true
		}
		// The whole batch is failed rows; stop rather than spin on them.
		if !progressed {
			break
		}
		if len(expired) < batch {
			break
		}
	}

	reclaimed, failed := s.reclaimStaleIngests(ctx, now, batch)
	summary.Reclaimed += reclaimed
	summary.Failed += failed

	s.logger.Info(ctx, "sweep finished",
		"reconciled", summary.Reconciled, "reclaimed", summary.Reclaimed, "failed", summary.Failed)

	return summary, nil
}

// DeleteUpload is the on-demand variant used by owner-initiated deletion.
// Same two-step, crash-safe sequence as the expiry-driven path.
func (s *Sweeper) DeleteUpload(ctx context.Context, uploadID string) error {
	upload, err := s.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return err
	}
	return s.removeUpload(ctx, upload.ID, upload.StoragePath)
}

// DeleteWithToken deletes an upload addressed by its download token when
// the presented raw delete secret matches the stored hash. The link is only
// used to find the upload; its expiry, password and lockout state are not
// consulted, so owners can delete expired or locked-out uploads. Unknown
// tokens and wrong secrets are indistinguishable to the caller.
func (s *Sweeper) DeleteWithToken(ctx context.Context, downloadToken, rawToken string) error {
	link, err := s.shareLinks.GetByToken(ctx, downloadToken)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		return err
	}
	token, err := s.deleteTokens.GetByUploadID(ctx, link.UploadID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrorUnauthorized
		}
		return err
	}
	if !s.minter.Verify(rawToken, token.TokenHash) {
		return common.ErrorUnauthorized
	}
	return s.DeleteUpload(ctx, link.UploadID)
}

// removeUpload deletes the blob first, then the metadata row (share links
// and delete tokens cascade). A blob that is already absent counts as
// deleted; any other blob failure leaves the row for the next sweep.
func (s *Sweeper) removeUpload(ctx context.Context, uploadID, storagePath string) error {
	backoff := retry.WithMaxRetries(2, retry.NewConstant(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.blobs.Delete(ctx, storagePath); err != nil && !errors.Is(err, blob.ErrNotExist) {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete blob %s: %v", common.ErrStorageIO, storagePath, err)
	}

	if err := s.uploads.Delete(ctx, uploadID); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}

// reclaimStaleIngests removes ingesting claims older than the configured
// age. A crash after blob commit but before completion leaves bytes at the
// final path; those are deleted too.
func (s *Sweeper) reclaimStaleIngests(ctx context.Context, now time.Time, batch int) (reclaimed, failed int) {
	cutoff := now.Add(-s.cfg.StaleIngestAge)

	stale, err := s.uploads.SelectStaleIngesting(ctx, cutoff, batch)
	if err != nil {
		s.logger.Warn(ctx, "sweep: stale ingest query failed", "error", err)
		return 0, 1
	}

	for _, upload := range stale {
		if err := s.removeUpload(ctx, upload.ID, upload.StoragePath); err != nil {
			s.logger.Warn(ctx, "sweep: stale claim not reclaimed",
				"upload_id", upload.ID, "error", err)
			failed++
			continue
		}
		reclaimed++
	}
	return reclaimed, failed
}
