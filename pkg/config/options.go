package config

import (
	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/retry"
	"github.com/marmos91/dvuploader/pkg/upload"
)

// UploadOptions converts the upload and retry sections into batch options.
// Per-invocation fields (Skip, Limit, ListOnly, ForceNew) are left at zero
// for the caller to set from flags.
func (c *Config) UploadOptions() upload.Options {
	opts := upload.DefaultOptions()
	opts.Recurse = c.Upload.Recurse
	opts.VerifyChecksums = c.Upload.Verify
	opts.DirectUpload = c.Upload.Direct
	opts.HTTPConcurrency = c.Upload.Concurrency
	opts.Timeout = c.Upload.Timeout
	opts.MaxWaitLock = c.Upload.MaxLockWait
	opts.LockPollInterval = c.Upload.LockPollInterval
	opts.FixityAlgorithm = checksum.Algorithm(c.Upload.Fixity)
	opts.Description = c.Upload.Description
	opts.Transient = c.Retry.TransientPolicy()
	opts.Passes = c.Retry.PassPolicy()
	return opts
}

// TransientPolicy is the per-operation retry layer.
func (r RetryConfig) TransientPolicy() retry.Policy {
	p := retry.TransientPolicy()
	p.MaxAttempts = r.OperationAttempts
	p.InitialDelay = r.OperationDelay
	p.MaxDelay = r.OperationMaxDelay
	return p
}

// PassPolicy is the batch pass layer.
func (r RetryConfig) PassPolicy() retry.Policy {
	p := retry.PassPolicy()
	p.MaxAttempts = r.BatchPasses
	p.InitialDelay = r.BatchDelay
	p.MaxDelay = r.BatchMaxDelay
	return p
}
