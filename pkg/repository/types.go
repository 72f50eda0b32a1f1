package repository

import (
	"path"
	"strings"
)

// Checksum is a digest as reported by the repository.
type Checksum struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// DataFile is the repository's record of a stored file.
type DataFile struct {
	ID                 int64    `json:"id,omitempty"`
	Filename           string   `json:"filename,omitempty"`
	ContentType        string   `json:"contentType,omitempty"`
	FileSize           int64    `json:"filesize"`
	StorageIdentifier  string   `json:"storageIdentifier,omitempty"`
	OriginalFileFormat string   `json:"originalFileFormat,omitempty"`
	OriginalFileName   string   `json:"originalFileName,omitempty"`
	Checksum           Checksum `json:"checksum"`
}

// FileEntry is one file of a dataset version.
type FileEntry struct {
	Label          string   `json:"label"`
	DirectoryLabel string   `json:"directoryLabel,omitempty"`
	DataFile       DataFile `json:"dataFile"`
}

// StorageDriver describes the dataset's storage and whether it accepts
// direct uploads.
type StorageDriver struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Label        string `json:"label"`
	DirectUpload bool   `json:"directUpload"`
}

// Lock is a dataset lock.
type Lock struct {
	LockType string `json:"lockType"`
	Date     string `json:"date,omitempty"`
	User     string `json:"user,omitempty"`
}

// UploadTicket is the reservation returned for a direct upload. Either URL is
// set (single part) or URLs, PartSize, Abort and Complete are (multipart).
type UploadTicket struct {
	URL               string            `json:"url,omitempty"`
	URLs              map[string]string `json:"urls,omitempty"`
	PartSize          int64             `json:"partSize,omitempty"`
	Abort             string            `json:"abort,omitempty"`
	Complete          string            `json:"complete,omitempty"`
	StorageIdentifier string            `json:"storageIdentifier"`
}

// Multipart reports whether the ticket describes a multipart upload.
func (t *UploadTicket) Multipart() bool {
	return t.URL == "" && len(t.URLs) > 0
}

// ChecksumMeta is the checksum block sent when registering a file.
type ChecksumMeta struct {
	Type  string `json:"@type"`
	Value string `json:"@value"`
}

// FileMeta is the metadata sent with a proxied upload or a direct commit.
type FileMeta struct {
	FileName          string        `json:"fileName,omitempty"`
	DirectoryLabel    string        `json:"directoryLabel,omitempty"`
	MimeType          string        `json:"mimeType,omitempty"`
	Description       string        `json:"description,omitempty"`
	StorageIdentifier string        `json:"storageIdentifier,omitempty"`
	Checksum          *ChecksumMeta `json:"checksum,omitempty"`
}

// addResult is the data returned by the add endpoint.
type addResult struct {
	Files []FileEntry `json:"files"`
}

// tabularExt maps an ingest source MIME type to its file extension.
func tabularExt(format string) string {
	switch strings.ToLower(format) {
	case "text/csv", "text/comma-separated-values":
		return "csv"
	case "text/tab-separated-values":
		return "tsv"
	case "application/x-stata":
		return "dta"
	case "application/x-spss-sav":
		return "sav"
	case "application/x-spss-por":
		return "por"
	case "application/x-rlang-transport":
		return "rdata"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "xlsx"
	}
	return ""
}

// ConvertedExtensionOf returns the original extension of a file the
// repository transcoded on ingest, or "" if it was stored as uploaded.
func (f *FileEntry) ConvertedExtensionOf() string {
	if name := f.DataFile.OriginalFileName; name != "" {
		if ext := extOf(name); ext != "" && ext != extOf(f.Label) {
			return ext
		}
	}
	if ext := tabularExt(f.DataFile.OriginalFileFormat); ext != "" && ext != extOf(f.Label) {
		return ext
	}
	return ""
}

func extOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}
