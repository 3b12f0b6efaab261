// Package sharelinks provides a PostgreSQL-backed repository for download
// share links.
package sharelinks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ztransfer/ztransfer/internal/common"
	"github.com/ztransfer/ztransfer/internal/dbx"
	"github.com/ztransfer/ztransfer/internal/server/models"
)

// PostgresRepository implements share link storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, link *models.ShareLink) error {
	query := `
		INSERT INTO share_links (id, upload_id, token, password_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		link.ID, link.UploadID, link.Token, link.PasswordHash, link.ExpiresAt, link.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByToken(ctx context.Context, token string) (*models.ShareLink, error) {
	query := `
		SELECT id, upload_id, token, password_hash, expires_at, failed_attempts, last_failed_at, created_at
		FROM share_links
		WHERE token = $1
	`
	link := &models.ShareLink{}
	var lastFailed sql.NullTime
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&link.ID, &link.UploadID, &link.Token, &link.PasswordHash,
		&link.ExpiresAt, &link.FailedAttempts, &lastFailed, &link.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lastFailed.Valid {
		link.LastFailedAt = lastFailed.Time
	}
	return link, nil
}

func (r *PostgresRepository) RegisterFailure(ctx context.Context, uploadID string, now time.Time) error {
	query := `
		UPDATE share_links
		SET failed_attempts = failed_attempts + 1, last_failed_at = $2
		WHERE upload_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, uploadID, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ResetFailures(ctx context.Context, uploadID string) error {
	query := `
		UPDATE share_links
		SET failed_attempts = 0, last_failed_at = NULL
		WHERE upload_id = $1
	`
	if _, err := r.db.ExecContext(ctx, query, uploadID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FailureState(ctx context.Context, uploadID string) (int, time.Time, error) {
	query := `
		SELECT COALESCE(MAX(failed_attempts), 0), MAX(last_failed_at)
		FROM share_links
		WHERE upload_id = $1
	`
	var attempts int
	var lastFailed sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, uploadID).Scan(&attempts, &lastFailed); err != nil {
		return 0, time.Time{}, fmt.Errorf("db error: %w", err)
	}
	if !lastFailed.Valid {
		return attempts, time.Time{}, nil
	}
	return attempts, lastFailed.Time, nil
}
