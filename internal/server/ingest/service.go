package ingest

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/ztransfer/ztransfer/internal/blob"
	"github.com/ztransfer/ztransfer/internal/common"
	"github.com/ztransfer/ztransfer/internal/logging"
	"github.com/ztransfer/ztransfer/internal/server/config"
	"github.com/ztransfer/ztransfer/internal/server/models"
	"github.com/ztransfer/ztransfer/internal/server/repositories/deletetokens"
	"github.com/ztransfer/ztransfer/internal/server/repositories/sharelinks"
	"github.com/ztransfer/ztransfer/internal/server/repositories/uploads"
	"github.com/ztransfer/ztransfer/internal/server/tokens"
)

const defaultContentType = "application/octet-stream"

// sniffLen bounds how much of the stored blob is re-read for content-type
// detection when the client declared none.
const sniffLen = 512

// Request describes one authenticated upload. Authentication happened
// before this point; OwnerID is trusted.
type Request struct {
	OwnerID      string
	Filename     string
	ContentType  string
	Body         io.Reader
	// SharePassword, when non-empty, password-protects the minted link.
	SharePassword string
	// Retention overrides the configured default when positive. Policy
	// values come from the caller; the core only enforces them.
	Retention time.Duration
}

// Result carries everything the caller may hand back to the uploader. The
// raw delete token appears here exactly once and is never recoverable
// afterwards.
type Result struct {
	Upload        *models.Upload
	DownloadToken string
	DeleteToken   string
	DownloadURL   string
	DeleteURL     string
}

// Service runs the ingestion pipeline against the metadata and blob stores.
type Service struct {
	cfg          *config.Config
	logger       logging.Logger
	uploads      uploads.Repository
	shareLinks   sharelinks.Repository
	deleteTokens deletetokens.Repository
	blobs        blob.Store
	minter       *tokens.Minter

	now func() time.Time
}

func NewService(cfg *config.Config, logger logging.Logger, um uploads.Repository,
	sm sharelinks.Repository, dm deletetokens.Repository, blobs blob.Store, minter *tokens.Minter) *Service {
	return &Service{
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

// Store streams the request body into blob storage and, once the blob is
// durably committed, records the completed upload and mints its tokens.
// The metadata row starts in state ingesting as a claim on the storage
// path; a concurrent writer to the same path fails with
// common.ErrDuplicateWriteInProgress instead of interleaving.
func (s *Service) Store(ctx context.Context, req *Request) (*Result, error) {
	now := s.now().UTC()
	id := uuid.NewString()

	retention := req.Retention
	if retention <= 0 {
		retention = s.cfg.RetentionPeriod
	}

	upload := &models.Upload{
		ID:           id,
		OwnerID:      req.OwnerID,
		StoragePath:  StoragePath(req.OwnerID, id, req.Filename, now),
		OriginalName: SanitizeFilename(req.Filename),
		ContentType:  req.ContentType,
		State:        models.UploadStateIngesting,
		CreatedAt:    now,
		ExpiresAt:    now.Add(retention),
	}
	if upload.ContentType == "" {
		upload.ContentType = defaultContentType
	}

	if err := s.uploads.Create(ctx, upload); err != nil {
		return nil, fmt.Errorf("claim upload: %w", err)
	}

	writer, err := s.blobs.Create(ctx, upload.StoragePath)
	if err != nil {
		s.discardClaim(ctx, id)
		return nil, fmt.Errorf("%w: create blob: %v", common.ErrStorageIO, err)
	}

	streamer := &ChecksumStreamer{MaxBytes: s.cfg.MaxUploadSizeBytes, ChunkSize: s.cfg.ChunkSizeBytes}
	size, digest, err := streamer.Stream(ctx, req.Body, writer)
	if err != nil {
		s.discardClaim(ctx, id)
		return nil, err
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = s.sniffContentType(ctx, upload.StoragePath)
	}

	if err := s.uploads.MarkComplete(ctx, id, size, digest, contentType); err != nil {
		// The blob committed but metadata didn't; remove the blob so no
		// unreachable bytes linger, then drop the claim.
		if delErr := s.blobs.Delete(ctx, upload.StoragePath); delErr != nil {
			s.logger.Warn(ctx, "orphan blob left after failed completion", "path", upload.StoragePath, "error", delErr)
		}
		s.discardClaim(ctx, id)
		return nil, fmt.Errorf("complete upload: %w", err)
	}
	upload.SizeBytes = size
	upload.SHA256 = digest
	upload.ContentType = contentType
	upload.State = models.UploadStateComplete

	result, err := s.mintTokens(ctx, upload, req.SharePassword)
	if err != nil {
		// A complete upload without tokens is unreachable by anyone; roll
		// it back blob-first, same ordering as the sweeper.
		if delErr := s.blobs.Delete(ctx, upload.StoragePath); delErr != nil {
			s.logger.Warn(ctx, "orphan blob left after failed token mint", "path", upload.StoragePath, "error", delErr)
		}
		s.discardClaim(ctx, id)
		return nil, err
	}

	s.logger.Info(ctx, "upload complete",
		"upload_id", id, "owner_id", req.OwnerID, "size_bytes", size, "sha256", digest)

	return result, nil
}

// MintShareLink issues an additional share link for a completed upload. The
// expiry is clamped to the upload's own expiry so a share can never outlive
// its file; a zero expiresAt means "same as the upload".
func (s *Service) MintShareLink(ctx context.Context, uploadID, password string, expiresAt time.Time) (*models.ShareLink, error) {
	upload, err := s.uploads.GetByID(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if upload.State != models.UploadStateComplete {
		return nil, common.ErrorNotFound
	}

	if expiresAt.IsZero() || expiresAt.After(upload.ExpiresAt) {
		expiresAt = upload.ExpiresAt
	}

	token, err := s.minter.Mint()
	if err != nil {
		return nil, fmt.Errorf("mint token: %w", err)
	}

	link := &models.ShareLink{
		ID:        uuid.NewString(),
		UploadID:  upload.ID,
		Token:     token,
		ExpiresAt: expiresAt,
		CreatedAt: s.now().UTC(),
	}
	if password != "" {
		hash, err := s.minter.Hash(password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		link.PasswordHash = hash
	}

	if err := s.shareLinks.Create(ctx, link); err != nil {
		return nil, fmt.Errorf("create share link: %w", err)
	}
	return link, nil
}

func (s *Service) mintTokens(ctx context.Context, upload *models.Upload, sharePassword string) (*Result, error) {
	link, err := s.MintShareLink(ctx, upload.ID, sharePassword, upload.ExpiresAt)
	if err != nil {
		return nil, err
	}

	deleteSecret, err := s.minter.Mint()
	if err != nil {
		return nil, fmt.Errorf("mint delete token: %w", err)
	}
	deleteHash, err := s.minter.Hash(deleteSecret)
	if err != nil {
		return nil, fmt.Errorf("hash delete token: %w", err)
	}
	if err := s.deleteTokens.Create(ctx, &models.DeleteToken{
		UploadID:  upload.ID,
		TokenHash: deleteHash,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("create delete token: %w", err)
	}

	return &Result{
		Upload:        upload,
		DownloadToken: link.Token,
		DeleteToken:   deleteSecret,
		DownloadURL:   fmt.Sprintf("%s/d/%s", s.cfg.BaseURL, link.Token),
		DeleteURL: fmt.Sprintf("%s/files/%s?delete_token=%s",
			s.cfg.BaseURL, link.Token, url.QueryEscape(deleteSecret)),
	}, nil
}

// sniffContentType reads the first bytes of the committed blob and detects
// the media type. Falls back to application/octet-stream.
func (s *Service) sniffContentType(ctx context.Context, path string) string {
	rc, err := s.blobs.Open(ctx, path, 0, sniffLen)
	if err != nil {
		return defaultContentType
	}
	defer rc.Close()

	mtype, err := mimetype.DetectReader(rc)
	if err != nil {
		return defaultContentType
	}
	return mtype.String()
}

// discardClaim removes the upload row after a failed ingest. Best effort:
// a leftover row is reclaimed or expired by the retention sweeper.
func (s *Service) discardClaim(ctx context.Context, id string) {
	if err := s.uploads.Delete(ctx, id); err != nil {
		s.logger.Warn(ctx, "failed to discard upload claim", "upload_id", id, "error", err)
	}
}
