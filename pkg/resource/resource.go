// Package resource expands local input paths into an ordered set of file
// resources that the upload engine consumes.
package resource

import (
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"
)

// Resource is a handle over one local regular file.
//
// Everything except the digest cache is fixed at expansion time. Content is
// never read until Open is called and every Open starts at offset zero, so
// retries can re-read the file.
type Resource struct {
	// LocalPath is the path on disk used to open the file.
	LocalPath string

	// RelPath is the posix-style path relative to the input root. It is the
	// stable identity of the file within a batch.
	RelPath string

	Size    int64
	ModTime time.Time

	mu      sync.Mutex
	digests map[string]string
}

// New builds a resource from a stat result.
func New(localPath, relPath string, info os.FileInfo) *Resource {
	return &Resource{
		LocalPath: localPath,
		RelPath:   strings.TrimPrefix(path.Clean("/"+relPath), "/"),
		Size:      info.Size(),
		ModTime:   info.ModTime(),
	}
}

// Open returns a fresh reader positioned at the start of the file.
func (r *Resource) Open() (io.ReadCloser, error) {
	f, err := os.Open(r.LocalPath)
	if err != nil {
		return nil, &AccessError{Path: r.LocalPath, Err: err}
	}
	return f, nil
}

// OpenRange returns a reader over n bytes starting at off, for transferring
// one part of a multipart upload.
func (r *Resource) OpenRange(off, n int64) (io.ReadCloser, error) {
	f, err := os.Open(r.LocalPath)
	if err != nil {
		return nil, &AccessError{Path: r.LocalPath, Err: err}
	}
	return &sectionReadCloser{SectionReader: io.NewSectionReader(f, off, n), f: f}, nil
}

type sectionReadCloser struct {
	*io.SectionReader
	f *os.File
}

func (s *sectionReadCloser) Close() error { return s.f.Close() }

// Name returns the base name of the file.
func (r *Resource) Name() string {
	return path.Base(r.RelPath)
}

// Dir returns the posix directory of RelPath, or "" at the root.
func (r *Resource) Dir() string {
	d := path.Dir(r.RelPath)
	if d == "." {
		return ""
	}
	return d
}

// Stem returns the file name without its final extension.
func (r *Resource) Stem() string {
	name := r.Name()
	return strings.TrimSuffix(name, path.Ext(name))
}

// Ext returns the lower-cased final extension without the dot.
func (r *Resource) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(r.Name()), "."))
}

// Digest returns a cached hex digest for algorithm, if one was stored.
func (r *Resource) Digest(algorithm string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.digests[algorithm]
	return d, ok
}

// StoreDigest caches a hex digest for algorithm.
func (r *Resource) StoreDigest(algorithm, hex string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.digests == nil {
		r.digests = make(map[string]string, 1)
	}
	r.digests[algorithm] = hex
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s (%d bytes)", r.RelPath, r.Size)
}
