package deletetokens

import (
	"context"

	"github.com/ztransfer/ztransfer/internal/server/models"
)

// Repository persists delete-token hashes. Tokens are looked up by upload id
// first and only then verified against the stored hash, so no scan over
// candidate hashes is ever needed.
type Repository interface {
	Create(ctx context.Context, token *models.DeleteToken) error
	GetByUploadID(ctx context.Context, uploadID string) (*models.DeleteToken, error)
}
