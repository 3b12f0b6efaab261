// Package server wires the ZTransfer core: configuration, metadata
// repositories, blob storage, the ingestion and share services, and the
// scheduled retention sweeper. Transport layers (HTTP routing, sessions)
// live outside and call into the services exposed here.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ztransfer/ztransfer/internal/blob"
	"github.com/ztransfer/ztransfer/internal/logging"
	"github.com/ztransfer/ztransfer/internal/server/config"
	"github.com/ztransfer/ztransfer/internal/server/ingest"
	"github.com/ztransfer/ztransfer/internal/server/repositories/repomanager"
	"github.com/ztransfer/ztransfer/internal/server/retention"
	"github.com/ztransfer/ztransfer/internal/server/share"
	"github.com/ztransfer/ztransfer/internal/server/tokens"
)

type App struct {
	config *config.Config
	logger logging.Logger
	repos  repomanager.RepositoryManager

	Ingest   *ingest.Service
	Resolver *share.Resolver
	Sweeper  *retention.Sweeper
}

// NewBlobStore selects the configured blob backend.
func NewBlobStore(ctx context.Context, c *config.Config) (blob.Store, error) {
	switch c.BlobBackend {
	case config.BackendS3:
		return blob.NewS3Store(ctx, blob.S3Config{
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		})
	case config.BackendDisk:
		return blob.NewDiskStore(c.StorageDir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", c.BlobBackend)
	}
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger()

	repos, err := repomanager.NewPostgresRepositoryManager(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	blobs, err := NewBlobStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	minter := tokens.NewMinter(c.TokenBytes)

	is := ingest.NewService(c, logger, repos.Uploads(), repos.ShareLinks(), repos.DeleteTokens(), blobs, minter)
	res := share.NewResolver(c, logger, repos.Uploads(), repos.ShareLinks(), blobs, minter)
	sw := retention.NewSweeper(c, logger, repos.Uploads(), repos.ShareLinks(), repos.DeleteTokens(), blobs, minter)

	return &App{
		config:   c,
		logger:   logger,
		repos:    repos,
		Ingest:   is,
		Resolver: res,
		Sweeper:  sw,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run schedules periodic sweeps and blocks until the context is canceled
// or a termination signal arrives.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting app...", "backend", app.config.BlobBackend, "sweep_schedule", app.config.SweepSchedule)

	app.initSignalHandler(cancelFunc)

	scheduler := cron.New()
	_, err := scheduler.AddFunc(app.config.SweepSchedule, func() {
		if _, err := app.Sweeper.Sweep(ctx, time.Now().UTC()); err != nil {
			app.logger.Error(ctx, "scheduled sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("sweep schedule error: %w", err)
	}
	scheduler.Start()

	<-ctx.Done()

	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	if err := app.repos.Close(); err != nil {
		app.logger.Error(ctx, "db close error", "error", err)
	}

	app.logger.Info(context.Background(), "app stopped")
	return nil
}
