// Command sweep runs one retention pass and exits. Meant for cron or other
// external schedulers. Exit code 0 means every expired record reconciled;
// 1 means at least one record failed and remains for the next run.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/ztransfer/ztransfer/internal/logging"
	"github.com/ztransfer/ztransfer/internal/server"
	"github.com/ztransfer/ztransfer/internal/server/config"
	"github.com/ztransfer/ztransfer/internal/server/repositories/repomanager"
	"github.com/ztransfer/ztransfer/internal/server/retention"
	"github.com/ztransfer/ztransfer/internal/server/tokens"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx := context.Background()
	cfg := config.LoadConfig()
	logger := logging.NewJSONLogger()

	repos, err := repomanager.NewPostgresRepositoryManager(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Printf("db init error: %v", err)
		return 1
	}
	defer repos.Close()

	blobs, err := server.NewBlobStore(ctx, cfg)
	if err != nil {
		log.Printf("blob store init error: %v", err)
		return 1
	}

	sweeper := retention.NewSweeper(cfg, logger, repos.Uploads(), repos.ShareLinks(), repos.DeleteTokens(), blobs, tokens.NewMinter(cfg.TokenBytes))

	summary, err := sweeper.Sweep(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("sweep error: %v", err)
		return 1
	}
	if !summary.Success() {
		return 1
	}
	return 0
}
