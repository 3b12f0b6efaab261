// Package deletetokens provides a PostgreSQL-backed repository for upload
// delete-token hashes.
package deletetokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ztransfer/ztransfer/internal/common"
	"github.com/ztransfer/ztransfer/internal/dbx"
	"github.com/ztransfer/ztransfer/internal/server/models"
)

// PostgresRepository implements delete-token storage over a dbx.DBTX
// (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, token *models.DeleteToken) error {
	query := `
		INSERT INTO delete_tokens (upload_id, token_hash, created_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, token.UploadID, token.TokenHash, token.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByUploadID(ctx context.Context, uploadID string) (*models.DeleteToken, error) {
	query := `
		SELECT upload_id, token_hash, created_at
		FROM delete_tokens
		WHERE upload_id = $1
	`
	token := &models.DeleteToken{}
	err := r.db.QueryRowContext(ctx, query, uploadID).Scan(&token.UploadID, &token.TokenHash, &token.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return token, nil
}
