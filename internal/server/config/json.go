package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ztransfer/ztransfer/internal/flagx"
	"github.com/ztransfer/ztransfer/internal/timex"
)

// JsonConfig is the intermediate DTO used only for reading JSON config
// files. Interval fields use timex.Duration so both string values such as
// "15m" and integer nanoseconds parse. After unmarshalling, set fields are
// copied into the runtime Config.
type JsonConfig struct {
	DatabaseDSN        *string         `json:"database_dsn"`
	BlobBackend        *string         `json:"blob_backend"`
	StorageDir         *string         `json:"storage_dir"`
	S3RootUser         *string         `json:"s3_root_user"`
	S3RootPassword     *string         `json:"s3_root_password"`
	S3Bucket           *string         `json:"s3_bucket"`
	S3Region           *string         `json:"s3_region"`
	S3BaseEndpoint     *string         `json:"s3_base_endpoint"`
	BaseURL            *string         `json:"base_url"`
	MaxUploadSizeBytes *int64          `json:"max_upload_size_bytes"`
	ChunkSizeBytes     *int            `json:"chunk_size_bytes"`
	RetentionPeriod    *timex.Duration `json:"retention_period"`
	LockoutThreshold   *int            `json:"lockout_threshold"`
	LockoutWindow      *timex.Duration `json:"lockout_window"`
	TokenBytes         *int            `json:"token_bytes"`
	SweepSchedule      *string         `json:"sweep_schedule"`
	SweepBatchSize     *int            `json:"sweep_batch_size"`
	StaleIngestAge     *timex.Duration `json:"stale_ingest_age"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded. Unknown or absent
// fields keep their current values. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.BlobBackend, c.BlobBackend)
	setString(&config.StorageDir, c.StorageDir)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.BaseURL, c.BaseURL)

	if c.MaxUploadSizeBytes != nil {
		config.MaxUploadSizeBytes = *c.MaxUploadSizeBytes
	}
	if c.ChunkSizeBytes != nil {
		config.ChunkSizeBytes = *c.ChunkSizeBytes
	}
	if c.RetentionPeriod != nil {
		config.RetentionPeriod = time.Duration(c.RetentionPeriod.Duration)
	}
	if c.LockoutThreshold != nil {
		config.LockoutThreshold = *c.LockoutThreshold
	}
	if c.LockoutWindow != nil {
		config.LockoutWindow = time.Duration(c.LockoutWindow.Duration)
	}
	if c.TokenBytes != nil {
		config.TokenBytes = *c.TokenBytes
	}
	if c.SweepSchedule != nil {
		config.SweepSchedule = *c.SweepSchedule
	}
	if c.SweepBatchSize != nil {
		config.SweepBatchSize = *c.SweepBatchSize
	}
	if c.StaleIngestAge != nil {
		config.StaleIngestAge = time.Duration(c.StaleIngestAge.Duration)
	}
}
