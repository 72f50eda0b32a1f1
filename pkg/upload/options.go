package upload

import (
	"time"

	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/retry"
)

// Default option values.
const (
	DefaultHTTPConcurrency  = 4
	DefaultTimeout          = 5 * time.Minute
	DefaultMaxWaitLock      = 60 * time.Second
	DefaultLockPollInterval = 2 * time.Second
	DefaultFixityAlgorithm  = checksum.MD5
)

// Options configure one batch.
type Options struct {
	// Recurse descends into subdirectories of directory arguments.
	Recurse bool

	// VerifyChecksums enables content-hash duplicate detection and
	// post-upload digest verification.
	VerifyChecksums bool

	// DirectUpload requests direct-to-storage transfers when the dataset's
	// storage supports them. Otherwise the batch runs proxied.
	DirectUpload bool

	// Skip and Limit window the expanded file list. Limit 0 means no limit.
	Skip  int
	Limit int

	// ListOnly resolves duplicates and reports without transferring.
	ListOnly bool

	// ForceNew uploads everything, bypassing duplicate resolution.
	ForceNew bool

	// FixityAlgorithm is the digest sent when registering a direct upload.
	FixityAlgorithm checksum.Algorithm

	// HTTPConcurrency caps the number of files transferring at once.
	HTTPConcurrency int

	// Timeout bounds each individual network attempt.
	Timeout time.Duration

	// MaxWaitLock is the lock-wait budget shared by the whole batch.
	MaxWaitLock      time.Duration
	LockPollInterval time.Duration

	// Description is attached to every uploaded file.
	Description string

	// Transient and Passes override the per-operation and per-batch retry
	// policies. Zero values use retry.TransientPolicy and retry.PassPolicy.
	Transient retry.Policy
	Passes    retry.Policy
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		FixityAlgorithm:  DefaultFixityAlgorithm,
		HTTPConcurrency:  DefaultHTTPConcurrency,
		Timeout:          DefaultTimeout,
		MaxWaitLock:      DefaultMaxWaitLock,
		LockPollInterval: DefaultLockPollInterval,
	}
}

// Validate checks the options and fills zero values with defaults.
func (o *Options) Validate() error {
	switch {
	case o.HTTPConcurrency < 0:
		return &ConfigurationError{Field: "httpConcurrency", Message: "must be at least 1"}
	case o.Skip < 0:
		return &ConfigurationError{Field: "skip", Message: "must not be negative"}
	case o.Limit < 0:
		return &ConfigurationError{Field: "limit", Message: "must not be negative"}
	case o.Timeout < 0:
		return &ConfigurationError{Field: "timeout", Message: "must not be negative"}
	case o.MaxWaitLock < 0:
		return &ConfigurationError{Field: "maxWaitLock", Message: "must not be negative"}
	}

	if o.FixityAlgorithm == "" {
		o.FixityAlgorithm = DefaultFixityAlgorithm
	} else if !o.FixityAlgorithm.Valid() {
		a, err := checksum.ParseAlgorithm(string(o.FixityAlgorithm))
		if err != nil {
			return &ConfigurationError{Field: "fixityAlgorithm", Message: err.Error()}
		}
		o.FixityAlgorithm = a
	}

	if o.HTTPConcurrency == 0 {
		o.HTTPConcurrency = DefaultHTTPConcurrency
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.LockPollInterval <= 0 {
		o.LockPollInterval = DefaultLockPollInterval
	}
	if o.Transient.MaxAttempts == 0 {
		o.Transient = retry.TransientPolicy()
	}
	if o.Passes.MaxAttempts == 0 {
		o.Passes = retry.PassPolicy()
	}
	return nil
}
