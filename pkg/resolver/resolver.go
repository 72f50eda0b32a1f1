// Package resolver decides which local files are already present in the
// destination dataset. Resolution is a pure function of the local file and a
// listing snapshot taken once at batch start.
package resolver

import (
	"path"
	"sort"
	"strings"

	"github.com/marmos91/dvuploader/pkg/checksum"
)

// Entry is one file already present in the destination at snapshot time.
type Entry struct {
	StoredName     string
	DirectoryLabel string

	// ConvertedExtensionOf is the original extension when the repository
	// transcoded the file on ingest (e.g. "csv" for a stored "x.tab").
	ConvertedExtensionOf string

	ContentHash checksum.Digest
	Size        int64
}

// Path is the dataset-relative path of the entry.
func (e *Entry) Path() string {
	return joinPath(e.DirectoryLabel, e.StoredName)
}

type dirName struct{ dir, name string }

// Snapshot indexes a listing for lookup. It is read-only after NewSnapshot and
// safe to share between goroutines.
type Snapshot struct {
	entries []Entry
	byName  map[dirName]*Entry
	byStem  map[dirName][]*Entry
	bySize  map[int64][]*Entry
}

// NewSnapshot indexes entries. Entries are ordered by path so ties resolve
// the same way on every run.
func NewSnapshot(entries []Entry) *Snapshot {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path() < sorted[j].Path() })

	s := &Snapshot{
		entries: sorted,
		byName:  make(map[dirName]*Entry, len(sorted)),
		byStem:  make(map[dirName][]*Entry),
		bySize:  make(map[int64][]*Entry),
	}
	for i := range s.entries {
		e := &s.entries[i]
		dir := cleanDir(e.DirectoryLabel)
		if _, dup := s.byName[dirName{dir, e.StoredName}]; !dup {
			s.byName[dirName{dir, e.StoredName}] = e
		}
		if e.ConvertedExtensionOf != "" {
			k := dirName{dir, stem(e.StoredName)}
			s.byStem[k] = append(s.byStem[k], e)
		}
		if e.ContentHash.Value != "" {
			s.bySize[e.Size] = append(s.bySize[e.Size], e)
		}
	}
	return s
}

// Len returns the number of entries in the snapshot.
func (s *Snapshot) Len() int { return len(s.entries) }

// Entries returns the snapshot entries in path order.
func (s *Snapshot) Entries() []Entry { return s.entries }

// Rule identifies the match rule that classified a file.
type Rule int

const (
	RuleNone Rule = iota
	RuleExactName
	RuleConvertedExtension
	RuleContentHash
)

func (r Rule) String() string {
	switch r {
	case RuleExactName:
		return "exact-name"
	case RuleConvertedExtension:
		return "converted-extension"
	case RuleContentHash:
		return "content-hash"
	default:
		return "none"
	}
}

// Local describes the file being resolved.
type Local struct {
	// Dir is the dataset directory the file would be stored in.
	Dir  string
	Name string
	Size int64
}

// DigestFunc returns local digests for the requested algorithms.
type DigestFunc func(algs ...checksum.Algorithm) (map[checksum.Algorithm]string, error)

// Decision is the resolver's classification.
type Decision struct {
	Rule  Rule
	Match *Entry
}

// Skip reports whether the file is already present.
func (d Decision) Skip() bool { return d.Rule != RuleNone }

// Resolve applies the match rules in order and returns the first match:
//  1. exact stored name in the same directory
//  2. same stem in the same directory, where the entry was converted from the
//     local extension
//  3. when verify is set, same size and same content hash anywhere in the
//     dataset
//
// digests is called only when rule 3 is evaluated.
func Resolve(snap *Snapshot, local Local, verify bool, digests DigestFunc) (Decision, error) {
	dir := cleanDir(local.Dir)

	if e, ok := snap.byName[dirName{dir, local.Name}]; ok {
		return Decision{Rule: RuleExactName, Match: e}, nil
	}

	ext := strings.ToLower(strings.TrimPrefix(path.Ext(local.Name), "."))
	if ext != "" {
		for _, e := range snap.byStem[dirName{dir, stem(local.Name)}] {
			if strings.EqualFold(strings.TrimPrefix(e.ConvertedExtensionOf, "."), ext) {
				return Decision{Rule: RuleConvertedExtension, Match: e}, nil
			}
		}
	}

	if !verify || digests == nil {
		return Decision{}, nil
	}

	candidates := snap.bySize[local.Size]
	if len(candidates) == 0 {
		return Decision{}, nil
	}

	var algs []checksum.Algorithm
	seen := map[checksum.Algorithm]bool{}
	for _, e := range candidates {
		if a := e.ContentHash.Algorithm; a.Valid() && !seen[a] {
			seen[a] = true
			algs = append(algs, a)
		}
	}
	if len(algs) == 0 {
		return Decision{}, nil
	}

	localDigests, err := digests(algs...)
	if err != nil {
		return Decision{}, err
	}
	for _, e := range candidates {
		if v, ok := localDigests[e.ContentHash.Algorithm]; ok && strings.EqualFold(v, e.ContentHash.Value) {
			return Decision{Rule: RuleContentHash, Match: e}, nil
		}
	}
	return Decision{}, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, path.Ext(name))
}

func cleanDir(d string) string {
	d = strings.Trim(path.Clean("/"+strings.ReplaceAll(d, "\\", "/")), "/")
	return d
}

func joinPath(dir, name string) string {
	dir = cleanDir(dir)
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// JoinPath joins a destination directory and a relative directory into a
// dataset directory label.
func JoinPath(parts ...string) string {
	var nonEmpty []string
	for _, p := range parts {
		if c := cleanDir(p); c != "" {
			nonEmpty = append(nonEmpty, c)
		}
	}
	return strings.Join(nonEmpty, "/")
}
