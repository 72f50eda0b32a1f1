package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dvuploader/internal/bytesize"
	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/upload"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values (0, "", false, nil) are replaced with defaults; explicit values
// are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyUploadDefaults(&cfg.Upload)
	applyRetryDefaults(&cfg.Retry)
	applyJournalDefaults(&cfg.Journal)
	applyDigestCacheDefaults(&cfg.DigestCache)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

// applyUploadDefaults sets batch option defaults.
func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.Concurrency == 0 {
		cfg.Concurrency = upload.DefaultHTTPConcurrency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = upload.DefaultTimeout
	}
	if cfg.MaxLockWait == 0 {
		cfg.MaxLockWait = upload.DefaultMaxWaitLock
	}
	if cfg.LockPollInterval == 0 {
		cfg.LockPollInterval = upload.DefaultLockPollInterval
	}
	if cfg.Fixity == "" {
		cfg.Fixity = string(checksum.MD5)
	}
}

// applyRetryDefaults fills both retry layers from their stock policies.
func applyRetryDefaults(cfg *RetryConfig) {
	if cfg.OperationAttempts == 0 {
		cfg.OperationAttempts = 3
	}
	if cfg.OperationDelay == 0 {
		cfg.OperationDelay = 2 * time.Second
	}
	if cfg.OperationMaxDelay == 0 {
		cfg.OperationMaxDelay = 8 * time.Second
	}
	if cfg.BatchPasses == 0 {
		cfg.BatchPasses = 4
	}
	if cfg.BatchDelay == 0 {
		cfg.BatchDelay = 5 * time.Second
	}
	if cfg.BatchMaxDelay == 0 {
		cfg.BatchMaxDelay = 20 * time.Second
	}
}

// applyJournalDefaults sets journal database defaults.
func applyJournalDefaults(cfg *JournalConfig) {
	cfg.ApplyDefaults()
}

// applyDigestCacheDefaults sets the digest cache location.
func applyDigestCacheDefaults(cfg *DigestCacheConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(getCacheDir(), "digests")
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 256 * bytesize.MiB
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
// It is used to generate sample configuration files and in tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Repository: RepositoryConfig{
			URL: "https://demo.dataverse.org",
		},
		Journal: JournalConfig{Enabled: true},
		DigestCache: DigestCacheConfig{
			Enabled: true,
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
