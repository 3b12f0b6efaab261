// Package uploads provides a PostgreSQL-backed repository for upload
// metadata rows.
package uploads

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ztransfer/ztransfer/internal/common"
	"github.com/ztransfer/ztransfer/internal/dbx"
	"github.com/ztransfer/ztransfer/internal/server/models"
)

// pgUniqueViolation is the PostgreSQL error code for unique_violation.
const pgUniqueViolation = "23505"

// PostgresRepository implements upload storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, upload *models.Upload) error {
	query := `
		INSERT INTO uploads (id, owner_id, storage_path, original_name, content_type, state, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		upload.ID, upload.OwnerID, upload.StoragePath, upload.OriginalName,
		upload.ContentType, string(upload.State), upload.CreatedAt, upload.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return common.ErrDuplicateWriteInProgress
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// MarkComplete only succeeds from state ingesting; anything else means the
// row was touched by another writer and is reported as an inconsistency.
func (r *PostgresRepository) MarkComplete(ctx context.Context, id string, sizeBytes int64, sha256, contentType string) error {
	query := `
		UPDATE uploads
		SET state = 'complete', size_bytes = $2, sha256 = $3, content_type = $4
		WHERE id = $1 AND state = 'ingesting'
	`
	result, err := r.db.ExecContext(ctx, query, id, sizeBytes, sha256, contentType)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n != 1 {
		return common.ErrMetadataInconsistency
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Upload, error) {
	query := `
		SELECT id, owner_id, storage_path, original_name, content_type, size_bytes, sha256, state, created_at, expires_at
		FROM uploads
		WHERE id = $1
	`
	upload := &models.Upload{}
	var state string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&upload.ID, &upload.OwnerID, &upload.StoragePath, &upload.OriginalName,
		&upload.ContentType, &upload.SizeBytes, &upload.SHA256, &state,
		&upload.CreatedAt, &upload.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	upload.State = models.UploadState(state)
	return upload, nil
}

func (r *PostgresRepository) SelectExpired(ctx context.Context, now time.Time, limit int) ([]*models.Upload, error) {
	query := `
		SELECT id, owner_id, storage_path, original_name, content_type, size_bytes, sha256, state, created_at, expires_at
		FROM uploads
		WHERE state = 'complete' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`
	return r.selectUploads(ctx, query, now, limit)
}

func (r *PostgresRepository) SelectStaleIngesting(ctx context.Context, cutoff time.Time, limit int) ([]*models.Upload, error) {
	query := `
		SELECT id, owner_id, storage_path, original_name, content_type, size_bytes, sha256, state, created_at, expires_at
		FROM uploads
		WHERE state = 'ingesting' AND created_at <= $1
		ORDER BY created_at
		LIMIT $2
	`
	return r.selectUploads(ctx, query, cutoff, limit)
}

func (r *PostgresRepository) selectUploads(ctx context.Context, query string, args ...any) ([]*models.Upload, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select uploads: %w", err)
	}
	defer rows.Close()

	var result []*models.Upload
	for rows.Next() {
		var item models.Upload
		var state string
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.StoragePath, &item.OriginalName,
			&item.ContentType, &item.SizeBytes, &item.SHA256, &state,
			&item.CreatedAt, &item.ExpiresAt); err != nil {
			return nil, err
		}
		item.State = models.UploadState(state)
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM uploads WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
