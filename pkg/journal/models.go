package journal

import (
	"time"

	"github.com/marmos91/dvuploader/pkg/upload"
)

// BatchRecord is one ProcessBatch call.
type BatchRecord struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	DatasetPID    string    `gorm:"index;size:255" json:"datasetPid"`
	Destination   string    `gorm:"size:1024" json:"destination,omitempty"`
	Mode          string    `gorm:"size:16" json:"mode"`
	UploadedFiles int       `json:"uploadedFiles"`
	SkippedFiles  int       `json:"skippedFiles"`
	FailedFiles   int       `json:"failedFiles"`
	UploadedBytes int64     `json:"uploadedBytes"`
	Cancelled     bool      `json:"cancelled"`
	StartedAt     time.Time `gorm:"index" json:"startedAt"`
	FinishedAt    time.Time `json:"finishedAt"`

	Files []FileRecord `gorm:"foreignKey:BatchID;constraint:OnDelete:CASCADE" json:"files,omitempty"`
}

// TableName returns the table name for BatchRecord.
func (BatchRecord) TableName() string {
	return "batches"
}

// FileRecord is the journaled outcome of one file in a batch.
type FileRecord struct {
	ID                uint   `gorm:"primaryKey" json:"-"`
	BatchID           string `gorm:"index;size:36;not null" json:"-"`
	Seq               int    `json:"seq"`
	Path              string `gorm:"size:4096" json:"path"`
	LocalPath         string `gorm:"size:4096" json:"localPath"`
	Destination       string `gorm:"size:1024" json:"destination,omitempty"`
	Status            string `gorm:"index;size:16" json:"status"`
	Reason            string `gorm:"size:32" json:"reason,omitempty"`
	Error             string `gorm:"type:text" json:"error,omitempty"`
	Match             string `gorm:"size:4096" json:"match,omitempty"`
	Bytes             int64  `json:"bytes"`
	MimeType          string `gorm:"size:255" json:"mimeType,omitempty"`
	StorageIdentifier string `gorm:"size:1024" json:"storageIdentifier,omitempty"`
	Checksum          string `gorm:"size:255" json:"checksum,omitempty"`
	BatchRetries      int    `json:"batchRetries"`
	ExhaustedAttempts int    `json:"exhaustedAttempts"`
}

// TableName returns the table name for FileRecord.
func (FileRecord) TableName() string {
	return "batch_files"
}

// AllModels returns all GORM models for auto-migration.
func AllModels() []any {
	return []any{
		&BatchRecord{},
		&FileRecord{},
	}
}

// FromResult converts a batch report into its journal form.
func FromResult(r *upload.Result) *BatchRecord {
	b := &BatchRecord{
		ID:            r.BatchID,
		DatasetPID:    r.DatasetPID,
		Destination:   r.Destination,
		Mode:          r.Mode.String(),
		UploadedFiles: r.Counters.UploadedFiles,
		SkippedFiles:  r.Counters.SkippedFiles,
		FailedFiles:   r.Counters.FailedFiles,
		UploadedBytes: r.Counters.UploadedBytes,
		Cancelled:     r.Cancelled,
		StartedAt:     r.Started,
		FinishedAt:    r.Finished,
		Files:         make([]FileRecord, 0, len(r.Outcomes)),
	}
	for i, o := range r.Outcomes {
		b.Files = append(b.Files, FileRecord{
			BatchID:           r.BatchID,
			Seq:               i,
			Path:              o.Path,
			LocalPath:         o.LocalPath,
			Destination:       o.Destination,
			Status:            string(o.Status),
			Reason:            string(o.Reason),
			Error:             o.Error,
			Match:             o.Match,
			Bytes:             o.Bytes,
			MimeType:          o.MimeType,
			StorageIdentifier: o.StorageIdentifier,
			Checksum:          o.Checksum,
			BatchRetries:      o.BatchRetries,
			ExhaustedAttempts: o.ExhaustedAttempts,
		})
	}
	return b
}

// Result rebuilds the batch report. Files must have been loaded.
func (b *BatchRecord) Result() *upload.Result {
	r := &upload.Result{
		BatchID:     b.ID,
		DatasetPID:  b.DatasetPID,
		Destination: b.Destination,
		Counters: upload.CounterSnapshot{
			UploadedFiles: b.UploadedFiles,
			SkippedFiles:  b.SkippedFiles,
			FailedFiles:   b.FailedFiles,
			UploadedBytes: b.UploadedBytes,
		},
		Started:   b.StartedAt,
		Finished:  b.FinishedAt,
		Cancelled: b.Cancelled,
		Outcomes:  make([]upload.FileOutcome, 0, len(b.Files)),
	}
	if b.Mode == upload.ModeDirect.String() {
		r.Mode = upload.ModeDirect
	}
	for _, f := range b.Files {
		r.Outcomes = append(r.Outcomes, upload.FileOutcome{
			Path:              f.Path,
			LocalPath:         f.LocalPath,
			Destination:       f.Destination,
			Status:            upload.Status(f.Status),
			Reason:            upload.Reason(f.Reason),
			Error:             f.Error,
			Match:             f.Match,
			Bytes:             f.Bytes,
			MimeType:          f.MimeType,
			StorageIdentifier: f.StorageIdentifier,
			Checksum:          f.Checksum,
			BatchRetries:      f.BatchRetries,
			ExhaustedAttempts: f.ExhaustedAttempts,
		})
	}
	return r
}
