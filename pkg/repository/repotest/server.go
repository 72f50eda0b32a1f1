// Package repotest runs an in-process fake repository for tests. It
// implements the listing, lock, proxied add and direct upload endpoints and
// can inject transient failures, locks and corrupted transfers.
package repotest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/repository"
)

// Token is the API token the fake repository accepts.
const Token = "test-token"

// Config controls the fake repository's behavior.
type Config struct {
	// DirectUpload advertises direct-to-storage support.
	DirectUpload bool

	// PartSize switches reservations larger than it to multipart. Zero means
	// single-part only.
	PartSize int64

	// ChecksumType is the algorithm the repository reports ("MD5" by default).
	// NewHash defaults to the matching hash.
	ChecksumType string
	NewHash      func() hash.Hash

	// ConvertTabular stores uploaded .csv files as .tab, like tabular ingest.
	ConvertTabular bool

	// Latency is added to every add and storage PUT, to make concurrency
	// observable.
	Latency time.Duration
}

// Server is the fake repository.
type Server struct {
	*httptest.Server
	cfg Config

	mu       sync.Mutex
	files    []repository.FileEntry
	objects  map[string][]byte
	uploads  map[string]map[int][]byte
	locks    []string
	failures map[string]int // op+name -> remaining 503s
	truncate map[string]bool
	nextID   int64

	requests map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
}

// New starts a fake repository. Close it with Server.Close.
func New(cfg Config) *Server {
	if cfg.ChecksumType == "" {
		cfg.ChecksumType = string(checksum.MD5)
	}
	if cfg.NewHash == nil {
		alg, err := checksum.ParseAlgorithm(cfg.ChecksumType)
		if err != nil {
			panic(fmt.Sprintf("repotest: %v", err))
		}
		cfg.NewHash = alg.New
	}
	s := &Server{
		cfg:      cfg,
		objects:  map[string][]byte{},
		uploads:  map[string]map[int][]byte{},
		failures: map[string]int{},
		truncate: map[string]bool{},
		requests: map[string]int{},
	}

	r := chi.NewRouter()
	r.Route("/api/datasets", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.auth)
			r.Get("/:persistentId/versions/:draft/files", s.handleList)
			r.Get("/:persistentId/locks", s.handleLocks)
			r.Get("/:persistentId/storageDriver", s.handleDriver)
			r.Get("/:persistentId/uploadurls", s.handleUploadURLs)
			r.Post("/:persistentId/add", s.handleAdd)
			r.Put("/mpupload/{id}/complete", s.handleComplete)
			r.Delete("/mpupload/{id}", s.handleAbort)
		})
	})
	r.Put("/storage/{id}/{part}", s.handlePut)

	s.Server = httptest.NewServer(r)
	return s
}

// Client returns a repository client pointed at the fake.
func (s *Server) Client() *repository.Client {
	return repository.New(s.URL, "doi:10.5072/FK2/TEST", repository.WithToken(Token))
}

// AddExisting seeds a file into the listing.
func (s *Server) AddExisting(e repository.FileEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.DataFile.ID = s.nextID
	s.files = append(s.files, e)
}

// SetLocks replaces the dataset's locks.
func (s *Server) SetLocks(locks ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = locks
}

// FailNext makes the next n calls of op for file name return 503. op is
// "add" (matched by file name), or "put" or "locks" (name must be "*").
func (s *Server) FailNext(op, name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+":"+name] = n
}

// Truncate makes the repository silently drop the last byte of name when
// storing it.
func (s *Server) Truncate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.truncate[name] = true
}

// Files returns a copy of the dataset listing.
func (s *Server) Files() []repository.FileEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]repository.FileEntry(nil), s.files...)
}

// Requests returns how many times op was called.
func (s *Server) Requests(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[op]
}

// PeakInFlight returns the highest number of concurrent add and storage PUT
// requests observed.
func (s *Server) PeakInFlight() int {
	return int(s.peak.Load())
}

// PendingUploads returns the number of multipart reservations not yet
// completed or aborted.
func (s *Server) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(repository.APIKeyHeader) != Token {
			writeError(w, http.StatusUnauthorized, "Bad API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) count(op string) {
	s.mu.Lock()
	s.requests[op]++
	s.mu.Unlock()
}

// shouldFail consumes one injected failure for op and name.
func (s *Server) shouldFail(op, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range []string{op + ":" + name, op + ":*"} {
		if s.failures[k] > 0 {
			s.failures[k]--
			return true
		}
	}
	return false
}

func (s *Server) enter() func() {
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.cfg.Latency > 0 {
		time.Sleep(s.cfg.Latency)
	}
	return func() { s.inFlight.Add(-1) }
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.count("list")
	writeData(w, s.Files())
}

func (s *Server) handleLocks(w http.ResponseWriter, _ *http.Request) {
	s.count("locks")
	if s.shouldFail("locks", "*") {
		writeError(w, http.StatusServiceUnavailable, "lock service unavailable")
		return
	}
	s.mu.Lock()
	locks := make([]repository.Lock, 0, len(s.locks))
	for _, l := range s.locks {
		locks = append(locks, repository.Lock{LockType: l})
	}
	s.mu.Unlock()
	writeData(w, locks)
}

func (s *Server) handleDriver(w http.ResponseWriter, _ *http.Request) {
	s.count("driver")
	d := repository.StorageDriver{Name: "file", Type: "file", Label: "File"}
	if s.cfg.DirectUpload {
		d = repository.StorageDriver{Name: "s3", Type: "s3", Label: "S3", DirectUpload: true}
	}
	writeData(w, d)
}

func (s *Server) handleUploadURLs(w http.ResponseWriter, r *http.Request) {
	s.count("reserve")
	if !s.cfg.DirectUpload {
		writeError(w, http.StatusBadRequest, "Direct upload not supported for files in this dataset")
		return
	}
	size, err := strconv.ParseInt(r.URL.Query().Get("size"), 10, 64)
	if err != nil || size < 0 {
		writeError(w, http.StatusBadRequest, "invalid size")
		return
	}

	s.mu.Lock()
	s.nextID++
	id := "obj" + strconv.FormatInt(s.nextID, 10)
	s.mu.Unlock()

	base := s.URL + "/storage/" + id
	ticket := repository.UploadTicket{StorageIdentifier: "s3://bucket:" + id}
	if s.cfg.PartSize > 0 && size > s.cfg.PartSize {
		parts := int((size + s.cfg.PartSize - 1) / s.cfg.PartSize)
		ticket.PartSize = s.cfg.PartSize
		ticket.URLs = make(map[string]string, parts)
		for i := 1; i <= parts; i++ {
			ticket.URLs[strconv.Itoa(i)] = fmt.Sprintf("%s/%d", base, i)
		}
		ticket.Abort = "/api/datasets/mpupload/" + id
		ticket.Complete = "/api/datasets/mpupload/" + id + "/complete"
		s.mu.Lock()
		s.uploads[id] = map[int][]byte{}
		s.mu.Unlock()
	} else {
		ticket.URL = base + "/0"
	}
	writeData(w, ticket)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	s.count("put")
	defer s.enter()()

	id := chi.URLParam(r, "id")
	part, _ := strconv.Atoi(chi.URLParam(r, "part"))
	if s.shouldFail("put", "*") {
		writeError(w, http.StatusServiceUnavailable, "SlowDown")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	if part == 0 {
		s.objects[id] = body
	} else if up, ok := s.uploads[id]; ok {
		up[part] = body
	}
	s.mu.Unlock()

	w.Header().Set("ETag", `"`+s.digest(body)+`"`)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	s.count("complete")
	id := chi.URLParam(r, "id")
	var etags map[string]string
	if err := json.NewDecoder(r.Body).Decode(&etags); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	up, ok := s.uploads[id]
	if !ok {
		writeError(w, http.StatusNotFound, "no such upload")
		return
	}
	if len(etags) != len(up) {
		writeError(w, http.StatusBadRequest, "part count mismatch")
		return
	}
	nums := make([]int, 0, len(up))
	for n := range up {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	var obj []byte
	for _, n := range nums {
		obj = append(obj, up[n]...)
	}
	s.objects[id] = obj
	delete(s.uploads, id)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.count("abort")
	s.mu.Lock()
	delete(s.uploads, chi.URLParam(r, "id"))
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	s.count("add")
	defer s.enter()()

	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var meta repository.FileMeta
	if err := json.Unmarshal([]byte(r.FormValue("jsonData")), &meta); err != nil {
		writeError(w, http.StatusBadRequest, "invalid jsonData")
		return
	}

	var content []byte
	name := meta.FileName
	if f, hdr, err := r.FormFile("file"); err == nil {
		content, err = io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if name == "" {
			name = hdr.Filename
		}
	} else if meta.StorageIdentifier != "" {
		id := meta.StorageIdentifier[strings.LastIndex(meta.StorageIdentifier, ":")+1:]
		s.mu.Lock()
		obj, ok := s.objects[id]
		s.mu.Unlock()
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown storage identifier")
			return
		}
		content = obj
	} else {
		writeError(w, http.StatusBadRequest, "no file content")
		return
	}

	if s.shouldFail("add", name) {
		writeError(w, http.StatusServiceUnavailable, "Service Unavailable")
		return
	}

	s.mu.Lock()
	if s.truncate[name] && len(content) > 0 {
		content = content[:len(content)-1]
	}
	s.mu.Unlock()

	entry := repository.FileEntry{
		Label:          name,
		DirectoryLabel: meta.DirectoryLabel,
		DataFile: repository.DataFile{
			Filename:          name,
			ContentType:       meta.MimeType,
			FileSize:          int64(len(content)),
			StorageIdentifier: meta.StorageIdentifier,
			Checksum:          repository.Checksum{Type: s.cfg.ChecksumType, Value: s.digest(content)},
		},
	}
	if s.cfg.ConvertTabular && strings.EqualFold(path.Ext(name), ".csv") {
		entry.Label = strings.TrimSuffix(name, path.Ext(name)) + ".tab"
		entry.DataFile.Filename = entry.Label
		entry.DataFile.OriginalFileFormat = "text/csv"
		entry.DataFile.OriginalFileName = name
	}

	s.mu.Lock()
	s.nextID++
	entry.DataFile.ID = s.nextID
	s.files = append(s.files, entry)
	s.mu.Unlock()

	writeData(w, map[string]any{"files": []repository.FileEntry{entry}})
}

func (s *Server) digest(b []byte) string {
	h := s.cfg.NewHash()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "OK", "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ERROR", "message": msg})
}
