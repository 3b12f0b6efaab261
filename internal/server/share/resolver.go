// Package share validates presented download tokens and authorizes byte
// reads for the files they point at.
package share

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ztransfer/ztransfer/internal/blob"
	"github.com/ztransfer/ztransfer/internal/common"
	"github.com/ztransfer/ztransfer/internal/logging"
	"github.com/ztransfer/ztransfer/internal/server/config"
	"github.com/ztransfer/ztransfer/internal/server/models"
	"github.com/ztransfer/ztransfer/internal/server/repositories/sharelinks"
	"github.com/ztransfer/ztransfer/internal/server/repositories/uploads"
	"github.com/ztransfer/ztransfer/internal/server/tokens"
)

// Resolution is what a successful token validation yields: enough to stream
// the bytes and label the response.
type Resolution struct {
	UploadID     string
	StoragePath  string
	OriginalName string
	ContentType  string
	SizeBytes    int64
	SHA256       string
}

// Resolver checks download tokens, optional passwords, expiry and the
// per-upload failed-attempt lockout.
type Resolver struct {
	cfg        *config.Config
	logger     logging.Logger
	uploads    uploads.Repository
	shareLinks sharelinks.Repository
	blobs      blob.Store
	minter     *tokens.Minter

	now func() time.Time
}

func NewResolver(cfg *config.Config, logger logging.Logger, um uploads.Repository,
	sm sharelinks.Repository, blobs blob.Store, minter *tokens.Minter) *Resolver {
	return &Resolver{
		cfg:        cfg,
		logger:     logger,
		uploads:    um,
		shareLinks: sm,
		blobs:      blobs,
		minter:     minter,
		now:        time.Now,
	}
}

// Resolve validates token and optional password. Distinct failures come
// back as distinct sentinels for diagnostics; run them through Outward
// before showing anything to a client.
//
// Lockout is scoped to the upload, not the individual link, so minting a
// fresh link for the same file does not reset an attacker's budget. Once
// the counter crosses the threshold, attempts fail fast with ErrLocked
// (correct password included) until the window elapses.
func (r *Resolver) Resolve(ctx context.Context, token, password string) (*Resolution, error) {
	now := r.now().UTC()

	link, err := r.shareLinks.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}

	upload, err := r.uploads.GetByID(ctx, link.UploadID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// Link without its upload: repairable orphan, but to the
			// caller it's just an unknown token.
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	if upload.State != models.UploadStateComplete {
		return nil, common.ErrorNotFound
	}

	if !now.Before(link.ExpiresAt) || !now.Before(upload.ExpiresAt) {
		return nil, common.ErrExpired
	}

	locked, err := r.checkLockout(ctx, upload.ID, now)
	if err != nil {
		return nil, err
	}
	if locked {
		return nil, common.ErrLocked
	}

	if link.PasswordHash != "" {
		if password == "" {
			return nil, common.ErrPasswordRequired
		}
		if !r.minter.Verify(password, link.PasswordHash) {
			if err := r.shareLinks.RegisterFailure(ctx, upload.ID, now); err != nil {
				r.logger.Warn(ctx, "failed to register password failure", "upload_id", upload.ID, "error", err)
			}
			return nil, common.ErrPasswordMismatch
		}
		if link.FailedAttempts > 0 {
			if err := r.shareLinks.ResetFailures(ctx, upload.ID); err != nil {
				r.logger.Warn(ctx, "failed to reset password failures", "upload_id", upload.ID, "error", err)
			}
		}
	}

	return &Resolution{
		UploadID:     upload.ID,
		StoragePath:  upload.StoragePath,
		OriginalName: upload.OriginalName,
		ContentType:  upload.ContentType,
		SizeBytes:    upload.SizeBytes,
		SHA256:       upload.SHA256,
	}, nil
}

// checkLockout reports whether the upload is currently locked. A window
// that has fully elapsed resets the counters.
func (r *Resolver) checkLockout(ctx context.Context, uploadID string, now time.Time) (bool, error) {
	attempts, lastFailed, err := r.shareLinks.FailureState(ctx, uploadID)
	if err != nil {
		return false, err
	}
	if attempts < r.cfg.LockoutThreshold {
		return false, nil
	}
	if !lastFailed.IsZero() && now.Sub(lastFailed) >= r.cfg.LockoutWindow {
		if err := r.shareLinks.ResetFailures(ctx, uploadID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// OpenRange streams [offset, offset+length) of the resolved file; length < 0
// means "to the end". Out-of-bounds ranges fail with ErrRangeNotSatisfiable
// rather than serving clamped data.
func (r *Resolver) OpenRange(ctx context.Context, res *Resolution, offset, length int64) (io.ReadCloser, error) {
	if res.SizeBytes == 0 {
		// A zero-byte upload is valid; the full-content read serves an
		// empty body rather than tripping the offset bound below.
		if offset == 0 && length <= 0 {
			return io.NopCloser(strings.NewReader("")), nil
		}
		return nil, common.ErrRangeNotSatisfiable
	}
	if offset < 0 || offset >= res.SizeBytes {
		return nil, common.ErrRangeNotSatisfiable
	}
	if length >= 0 && offset+length > res.SizeBytes {
		return nil, common.ErrRangeNotSatisfiable
	}

	rc, err := r.blobs.Open(ctx, res.StoragePath, offset, length)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			// Metadata says complete but the bytes are gone; likely a
			// deletion raced this read.
			return nil, fmt.Errorf("%w: blob missing for %s", common.ErrMetadataInconsistency, res.UploadID)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrStorageIO, err)
	}
	return rc, nil
}

// Outward collapses existence-leaking failures to the single unauthorized
// signal used at the public boundary. NotFound, Expired and PasswordMismatch
// become indistinguishable; PasswordRequired, Locked and
// RangeNotSatisfiable pass through.
func Outward(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrorNotFound),
		errors.Is(err, common.ErrExpired),
		errors.Is(err, common.ErrPasswordMismatch):
		return common.ErrorUnauthorized
	default:
		return err
	}
}
