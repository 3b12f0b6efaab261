package config

import (
	"flag"
	"os"
	"time"

	"github.com/ztransfer/ztransfer/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags:
//
//	-d string    PostgreSQL DSN
//	-backend     blob backend, "disk" or "s3"
//	-dir         disk backend storage root
//	-u string    S3 root user
//	-p string    S3 root password
//	-b string    S3 bucket name
//	-g string    S3 region
//	-e string    S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-base-url    prefix for generated links
//	-max-size    maximum upload size in bytes
//	-chunk-size  streaming chunk size in bytes
//	-retention   default retention period, hours
//	-lockout     failed-password lockout threshold
//	-window      lockout window, minutes
//	-token-bytes minted token size in bytes
//	-sweep       cron expression for the background sweeper
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers and converted to time.Duration values.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-d", "-backend", "-dir", "-u", "-p", "-b", "-g", "-e",
		"-base-url", "-max-size", "-chunk-size", "-retention",
		"-lockout", "-window", "-token-bytes", "-sweep",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.BlobBackend, "backend", config.BlobBackend, "blob backend (disk|s3)")
	fs.StringVar(&config.StorageDir, "dir", config.StorageDir, "disk backend storage root")
	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.BaseURL, "base-url", config.BaseURL, "base URL for generated links")
	fs.Int64Var(&config.MaxUploadSizeBytes, "max-size", config.MaxUploadSizeBytes, "maximum upload size in bytes")
	fs.IntVar(&config.ChunkSizeBytes, "chunk-size", config.ChunkSizeBytes, "streaming chunk size in bytes")

	retentionHours := fs.Int("retention", int(config.RetentionPeriod.Hours()), "retention period (in hours)")
	lockoutWindowMinutes := fs.Int("window", int(config.LockoutWindow.Minutes()), "lockout window (in minutes)")

	fs.IntVar(&config.LockoutThreshold, "lockout", config.LockoutThreshold, "failed-password lockout threshold")
	fs.IntVar(&config.TokenBytes, "token-bytes", config.TokenBytes, "token size in bytes")
	fs.StringVar(&config.SweepSchedule, "sweep", config.SweepSchedule, "sweep cron expression")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RetentionPeriod = time.Duration(*retentionHours) * time.Hour
	config.LockoutWindow = time.Duration(*lockoutWindowMinutes) * time.Minute
}
