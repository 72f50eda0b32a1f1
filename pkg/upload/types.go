package upload

import (
	"fmt"
	"sync"
	"time"
)

// Mode is the transfer path chosen once per batch.
type Mode int

const (
	// ModeProxied streams file content through the repository's add endpoint.
	ModeProxied Mode = iota
	// ModeDirect writes content to object storage through presigned URLs
	// and then registers it with the repository.
	ModeDirect
)

func (m Mode) String() string {
	switch m {
	case ModeProxied:
		return "proxied"
	case ModeDirect:
		return "direct"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText encodes the mode by name for reports.
func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// Status is the terminal classification of one file.
type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Reason names why a file ended in its status.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonListOnly          Reason = "list-only"
	ReasonExactName         Reason = "exact-name"
	ReasonConvertedExt      Reason = "converted-extension"
	ReasonContentHash       Reason = "content-hash"
	ReasonChecksumMismatch  Reason = "checksum-mismatch"
	ReasonTransientNetwork  Reason = "transient-network"
	ReasonLockTimeout       Reason = "lock-timeout"
	ReasonRejected          Reason = "repository-rejection"
	ReasonResourceAccess    Reason = "resource-access"
	ReasonCancelled         Reason = "cancelled"
	ReasonUnclassifiedError Reason = "error"
)

// FileOutcome is the per-file record of a batch.
type FileOutcome struct {
	// Path is the resource's path relative to its input root.
	Path      string `json:"path" yaml:"path"`
	LocalPath string `json:"localPath" yaml:"localPath"`

	// Destination is the dataset path the file was, or would be, stored at.
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	Status Status `json:"status" yaml:"status"`
	Reason Reason `json:"reason,omitempty" yaml:"reason,omitempty"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`

	// Match is the dataset path of the entry that made the file a duplicate.
	Match string `json:"match,omitempty" yaml:"match,omitempty"`

	Bytes             int64  `json:"bytes" yaml:"bytes"`
	MimeType          string `json:"mimeType,omitempty" yaml:"mimeType,omitempty"`
	StorageIdentifier string `json:"storageIdentifier,omitempty" yaml:"storageIdentifier,omitempty"`
	Checksum          string `json:"checksum,omitempty" yaml:"checksum,omitempty"`

	// BatchRetries is the number of extra batch passes the file took part in.
	BatchRetries int `json:"batchRetries" yaml:"batchRetries"`

	// ExhaustedAttempts counts transfer attempts spent in passes that ended
	// in a retryable failure.
	ExhaustedAttempts int `json:"exhaustedAttempts" yaml:"exhaustedAttempts"`
}

// CounterSnapshot is a point-in-time copy of the batch counters.
type CounterSnapshot struct {
	UploadedFiles int   `json:"uploadedFiles" yaml:"uploadedFiles"`
	SkippedFiles  int   `json:"skippedFiles" yaml:"skippedFiles"`
	FailedFiles   int   `json:"failedFiles" yaml:"failedFiles"`
	UploadedBytes int64 `json:"uploadedBytes" yaml:"uploadedBytes"`
}

// Total is the number of files classified.
func (s CounterSnapshot) Total() int {
	return s.UploadedFiles + s.SkippedFiles + s.FailedFiles
}

// Counters accumulates batch totals. Record is the only mutator and is safe
// for concurrent use.
type Counters struct {
	mu sync.Mutex
	s  CounterSnapshot
}

// Record adds a terminal outcome to the totals.
func (c *Counters) Record(o FileOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch o.Status {
	case StatusUploaded:
		c.s.UploadedFiles++
		c.s.UploadedBytes += o.Bytes
	case StatusSkipped:
		c.s.SkippedFiles++
	case StatusFailed:
		c.s.FailedFiles++
	}
}

// Snapshot returns the current totals.
func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

// Result is the report of one ProcessBatch call.
type Result struct {
	BatchID     string          `json:"batchId" yaml:"batchId"`
	DatasetPID  string          `json:"datasetPid,omitempty" yaml:"datasetPid,omitempty"`
	Destination string          `json:"destination,omitempty" yaml:"destination,omitempty"`
	Mode        Mode            `json:"mode" yaml:"mode"`
	Counters    CounterSnapshot `json:"counters" yaml:"counters"`
	Outcomes    []FileOutcome   `json:"files" yaml:"files"`
	Started     time.Time       `json:"started" yaml:"started"`
	Finished    time.Time       `json:"finished" yaml:"finished"`

	// Cancelled is set when the batch stopped early on a signal.
	Cancelled bool `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
}

// Duration is the wall time of the batch.
func (r *Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }
