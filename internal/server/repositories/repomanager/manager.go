package repomanager

import (
	"context"
	"database/sql"

	"github.com/ztransfer/ztransfer/internal/server/repositories/deletetokens"
	"github.com/ztransfer/ztransfer/internal/server/repositories/sharelinks"
	"github.com/ztransfer/ztransfer/internal/server/repositories/uploads"
)

// RepositoryManager hands out the metadata repositories bound to one
// database connection.
type RepositoryManager interface {
	Conn() *sql.DB
	Uploads() uploads.Repository
	ShareLinks() sharelinks.Repository
	DeleteTokens() deletetokens.Repository
	RunMigrations(ctx context.Context) error
	Close() error
}
