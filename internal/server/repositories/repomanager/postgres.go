// Package repomanager wires the PostgreSQL repositories and migrations
// behind a single constructor.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/ztransfer/ztransfer/internal/server/migrations"
	"github.com/ztransfer/ztransfer/internal/server/repositories/deletetokens"
	"github.com/ztransfer/ztransfer/internal/server/repositories/sharelinks"
	"github.com/ztransfer/ztransfer/internal/server/repositories/uploads"
)

type PostgresRepositoryManager struct {
	db           *sql.DB
	uploads      uploads.Repository
	shareLinks   sharelinks.Repository
	deleteTokens deletetokens.Repository
}

func (m *PostgresRepositoryManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresRepositoryManager) Uploads() uploads.Repository {
	return m.uploads
}

func (m *PostgresRepositoryManager) ShareLinks() sharelinks.Repository {
	return m.shareLinks
}

func (m *PostgresRepositoryManager) DeleteTokens() deletetokens.Repository {
	return m.deleteTokens
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}

	return nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

// NewPostgresRepositoryManager opens the database, waits for it to become
// reachable (the database container may still be starting), runs migrations
// and returns the repository set.
func NewPostgresRepositoryManager(ctx context.Context, dsn string) (RepositoryManager, error) {

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	m := &PostgresRepositoryManager{
		db:           db,
		uploads:      uploads.NewPostgresRepository(db),
		shareLinks:   sharelinks.NewPostgresRepository(db),
		deleteTokens: deletetokens.NewPostgresRepository(db),
	}

	if err := m.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	return m, nil
}
