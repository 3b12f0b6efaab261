package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ztransfer/ztransfer/internal/blob"
	"github.com/ztransfer/ztransfer/internal/common"
	"github.com/ztransfer/ztransfer/internal/logging"
	"github.com/ztransfer/ztransfer/internal/server/config"
	"github.com/ztransfer/ztransfer/internal/server/models"
	"github.com/ztransfer/ztransfer/internal/server/tokens"
)

// -------- test fakes --------

type fakeUploadsRepo struct {
	created      []*models.Upload
	createErr    error
	completed    map[string][3]any // id -> size, sha256, contentType
	completeErr  error
	deleted      []string
	uploadsByID  map[string]*models.Upload
}

func newFakeUploadsRepo() *fakeUploadsRepo {
	return &fakeUploadsRepo{completed: map[string][3]any{}, uploadsByID: map[string]*models.Upload{}}
}

func (f *fakeUploadsRepo) Create(ctx context.Context, u *models.Upload) error {
	if f.createErr != nil {
		return f.createErr
	}
	snapshot := *u
	f.created = append(f.created, &snapshot)
	stored := *u
	f.uploadsByID[u.ID] = &stored
	return nil
}

func (f *fakeUploadsRepo) MarkComplete(ctx context.Context, id string, size int64, sha, contentType string) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed[id] = [3]any{size, sha, contentType}
	if u, ok := f.uploadsByID[id]; ok {
		u.State = models.UploadStateComplete
		u.SizeBytes = size
		u.SHA256 = sha
		u.ContentType = contentType
	}
	return nil
}

func (f *fakeUploadsRepo) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	u, ok := f.uploadsByID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUploadsRepo) SelectExpired(ctx context.Context, now time.Time, limit int) ([]*models.Upload, error) {
	return nil, nil
}

func (f *fakeUploadsRepo) SelectStaleIngesting(ctx context.Context, cutoff time.Time, limit int) ([]*models.Upload, error) {
	return nil, nil
}

func (f *fakeUploadsRepo) Delete(ctx context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.uploadsByID, id)
	return nil
}

type fakeLinksRepo struct {
	created   []*models.ShareLink
	createErr error
}

func (f *fakeLinksRepo) Create(ctx context.Context, l *models.ShareLink) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, l)
	return nil
}

func (f *fakeLinksRepo) GetByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	return nil, common.ErrorNotFound
}

func (f *fakeLinksRepo) RegisterFailure(ctx context.Context, uploadID string, now time.Time) error {
	return nil
}

func (f *fakeLinksRepo) ResetFailures(ctx context.Context, uploadID string) error { return nil }

func (f *fakeLinksRepo) FailureState(ctx context.Context, uploadID string) (int, time.Time, error) {
	return 0, time.Time{}, nil
}

type fakeDeleteTokensRepo struct {
	created []*models.DeleteToken
}

func (f *fakeDeleteTokensRepo) Create(ctx context.Context, d *models.DeleteToken) error {
	f.created = append(f.created, d)
	return nil
}

func (f *fakeDeleteTokensRepo) GetByUploadID(ctx context.Context, uploadID string) (*models.DeleteToken, error) {
	return nil, common.ErrorNotFound
}

type fakeBlobStore struct {
	objects    map[string][]byte
	createErr  error
	deleted    []string
	lastWriter *fakeBlobWriter
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Create(ctx context.Context, key string) (blob.Writer, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	w := &fakeBlobWriter{}
	f.lastWriter = w
	f.objects[key] = nil
	return &storeWriter{fakeBlobWriter: w, store: f, key: key}, nil
}

type storeWriter struct {
	*fakeBlobWriter
	store *fakeBlobStore
	key   string
}

func (w *storeWriter) Commit(ctx context.Context) error {
	if err := w.fakeBlobWriter.Commit(ctx); err != nil {
		return err
	}
	w.store.objects[w.key] = w.buf.Bytes()
	return nil
}

func (w *storeWriter) Abort(ctx context.Context) error {
	delete(w.store.objects, w.key)
	return w.fakeBlobWriter.Abort(ctx)
}

func (f *fakeBlobStore) Open(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, blob.ErrNotExist
	}
	if offset >= int64(len(data)) {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	end := int64(len(data))
	if length >= 0 && offset+length < end {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	if _, ok := f.objects[key]; !ok {
		return blob.ErrNotExist
	}
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

// -------- helpers --------

func discardLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.MaxUploadSizeBytes = 5 << 20
	cfg.ChunkSizeBytes = 64 << 10
	cfg.BaseURL = "https://transfer.example.com"
	return cfg
}

func newTestService(t *testing.T) (*Service, *fakeUploadsRepo, *fakeLinksRepo, *fakeDeleteTokensRepo, *fakeBlobStore) {
	t.Helper()
	ur := newFakeUploadsRepo()
	lr := &fakeLinksRepo{}
	dr := &fakeDeleteTokensRepo{}
	bs := newFakeBlobStore()
	svc := NewService(testConfig(), discardLogger(), ur, lr, dr, bs, tokens.NewMinter(32))
	svc.now = func() time.Time { return time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC) }
	return svc, ur, lr, dr, bs
}

// -------- tests --------

func TestStore_Success(t *testing.T) {
	svc, ur, lr, dr, bs := newTestService(t)

	payload := randomPayload(t, 2<<20)
	res, err := svc.Store(context.Background(), &Request{
		OwnerID:     "owner-1",
		Filename:    "holiday photo.jpg",
		ContentType: "image/jpeg",
		Body:        bytes.NewReader(payload),
	})
	require.NoError(t, err)

	require.Len(t, ur.created, 1)
	claim := ur.created[0]
	assert.Equal(t, models.UploadStateIngesting, claim.State)
	assert.Equal(t, "holiday_photo.jpg", claim.OriginalName)
	assert.Contains(t, claim.StoragePath, "owner-1/2026-08/")

	completed, ok := ur.completed[claim.ID]
	require.True(t, ok, "upload must transition to complete")
	assert.Equal(t, int64(2<<20), completed[0])
	sum := sha256.Sum256(payload)
	assert.Equal(t, hex.EncodeToString(sum[:]), completed[1])
	assert.Equal(t, "image/jpeg", completed[2])

	assert.Equal(t, models.UploadStateComplete, res.Upload.State)
	assert.Equal(t, int64(2<<20), res.Upload.SizeBytes)

	require.Len(t, lr.created, 1)
	assert.Equal(t, res.DownloadToken, lr.created[0].Token)
	assert.Equal(t, claim.ExpiresAt, lr.created[0].ExpiresAt)
	assert.Empty(t, lr.created[0].PasswordHash)

	require.Len(t, dr.created, 1)
	assert.NotEqual(t, res.DeleteToken, dr.created[0].TokenHash, "raw delete token must never be stored")

	assert.Equal(t, "https://transfer.example.com/d/"+res.DownloadToken, res.DownloadURL)
	assert.Contains(t, res.DeleteURL, "delete_token=")

	stored := bs.objects[claim.StoragePath]
	assert.Equal(t, payload, stored, "stored bytes must round-trip")
}

func TestStore_SizeExceededLeavesNothing(t *testing.T) {
	svc, ur, lr, _, bs := newTestService(t)

	payload := randomPayload(t, 10<<20)
	_, err := svc.Store(context.Background(), &Request{
		OwnerID:  "owner-1",
		Filename: "big.bin",
		Body:     bytes.NewReader(payload),
	})

	assert.ErrorIs(t, err, common.ErrSizeExceeded)
	assert.Empty(t, ur.completed, "no completed record may exist")
	require.Len(t, ur.deleted, 1, "ingesting claim must be discarded")
	assert.Empty(t, lr.created)
	assert.True(t, bs.lastWriter.aborted, "no finalized blob may exist")
}

func TestStore_DuplicateClaim(t *testing.T) {
	svc, ur, _, _, _ := newTestService(t)
	ur.createErr = common.ErrDuplicateWriteInProgress

	_, err := svc.Store(context.Background(), &Request{
		OwnerID:  "owner-1",
		Filename: "a.txt",
		Body:     strings.NewReader("x"),
	})

	assert.ErrorIs(t, err, common.ErrDuplicateWriteInProgress)
}

func TestStore_MetadataFailureRemovesBlob(t *testing.T) {
	svc, ur, _, _, bs := newTestService(t)
	ur.completeErr = common.ErrMetadataInconsistency

	_, err := svc.Store(context.Background(), &Request{
		OwnerID:     "owner-1",
		Filename:    "a.txt",
		ContentType: "text/plain",
		Body:        strings.NewReader("hello"),
	})

	assert.ErrorIs(t, err, common.ErrMetadataInconsistency)
	assert.NotEmpty(t, bs.deleted, "committed blob must be removed when completion fails")
	assert.NotEmpty(t, ur.deleted)
}

func TestStore_TokenMintFailureRollsBack(t *testing.T) {
	svc, ur, lr, dr, bs := newTestService(t)
	lr.createErr = errors.New("link store unavailable")

	_, err := svc.Store(context.Background(), &Request{
		OwnerID:     "owner-1",
		Filename:    "a.txt",
		ContentType: "text/plain",
		Body:        strings.NewReader("hello"),
	})
	require.Error(t, err)

	// A tokenless complete upload is unreachable; both stores must be
	// cleaned up rather than waiting out the retention period.
	assert.NotEmpty(t, bs.deleted, "committed blob must be removed")
	assert.NotEmpty(t, ur.deleted, "metadata row must be removed")
	assert.Empty(t, ur.uploadsByID)
	assert.Empty(t, dr.created)
}

func TestStore_SniffsContentTypeWhenMissing(t *testing.T) {
	svc, ur, _, _, _ := newTestService(t)

	// PNG magic bytes followed by padding.
	payload := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
	res, err := svc.Store(context.Background(), &Request{
		OwnerID:  "owner-1",
		Filename: "image",
		Body:     bytes.NewReader(payload),
	})
	require.NoError(t, err)

	completed := ur.completed[res.Upload.ID]
	assert.Equal(t, "image/png", completed[2])
}

func TestStore_PasswordProtectedLink(t *testing.T) {
	svc, _, lr, _, _ := newTestService(t)

	_, err := svc.Store(context.Background(), &Request{
		OwnerID:       "owner-1",
		Filename:      "secret.txt",
		ContentType:   "text/plain",
		Body:          strings.NewReader("classified"),
		SharePassword: "hunter2",
	})
	require.NoError(t, err)

	require.Len(t, lr.created, 1)
	hash := lr.created[0].PasswordHash
	require.NotEmpty(t, hash)
	assert.NotContains(t, hash, "hunter2")
	assert.True(t, tokens.NewMinter(32).Verify("hunter2", hash))
}

func TestMintShareLink_ClampsExpiryToUpload(t *testing.T) {
	svc, ur, lr, _, _ := newTestService(t)

	res, err := svc.Store(context.Background(), &Request{
		OwnerID:     "owner-1",
		Filename:    "a.txt",
		ContentType: "text/plain",
		Body:        strings.NewReader("x"),
	})
	require.NoError(t, err)

	upload := ur.uploadsByID[res.Upload.ID]
	tooLate := upload.ExpiresAt.Add(48 * time.Hour)

	link, err := svc.MintShareLink(context.Background(), upload.ID, "", tooLate)
	require.NoError(t, err)

	assert.Equal(t, upload.ExpiresAt, link.ExpiresAt, "a share cannot outlive its file")
	assert.Len(t, lr.created, 2)
}

func TestMintShareLink_RejectsIncompleteUpload(t *testing.T) {
	svc, ur, _, _, _ := newTestService(t)

	claim := &models.Upload{ID: "u-1", State: models.UploadStateIngesting}
	ur.uploadsByID["u-1"] = claim

	_, err := svc.MintShareLink(context.Background(), "u-1", "", time.Time{})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
