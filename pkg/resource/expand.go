package resource

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/marmos91/dvuploader/internal/logger"
)

// Options controls path expansion.
type Options struct {
	// Recurse descends into subdirectories of directory arguments. Without it
	// only the regular files directly inside a directory argument are used.
	Recurse bool

	// Skip drops the first N resources of the ordered sequence.
	Skip int

	// Limit keeps at most N resources after Skip. Zero means no limit.
	Limit int
}

// Expansion is the result of expanding a set of input paths.
type Expansion struct {
	// Resources is ordered lexicographically by RelPath, then LocalPath.
	Resources []*Resource

	// Errors holds one AccessError per unreadable input or entry.
	Errors []*AccessError
}

// Expand turns input paths into an ordered, windowed list of resources.
// Unreadable paths are reported in Errors and do not stop expansion.
func Expand(paths []string, opts Options) *Expansion {
	exp := &Expansion{}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			exp.Errors = append(exp.Errors, &AccessError{Path: p, Err: err})
			continue
		}

		if !info.IsDir() {
			exp.Resources = append(exp.Resources, New(p, filepath.Base(p), info))
			continue
		}

		exp.walkDir(p, opts.Recurse)
	}

	sort.SliceStable(exp.Resources, func(i, j int) bool {
		a, b := exp.Resources[i], exp.Resources[j]
		if a.RelPath != b.RelPath {
			return a.RelPath < b.RelPath
		}
		return a.LocalPath < b.LocalPath
	})
	sort.SliceStable(exp.Errors, func(i, j int) bool {
		return exp.Errors[i].Path < exp.Errors[j].Path
	})

	exp.Resources = Window(exp.Resources, opts.Skip, opts.Limit)
	return exp
}

// walkDir adds the files under root. Symlinked directories are not followed,
// which keeps symlink loops from recursing.
func (exp *Expansion) walkDir(root string, recurse bool) {
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			exp.Errors = append(exp.Errors, &AccessError{Path: p, Err: err})
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if p != root && !recurse {
				return fs.SkipDir
			}
			return nil
		}

		info, err := os.Stat(p)
		if errors.Is(err, syscall.ELOOP) {
			logger.Debug("Skipping symlink loop", logger.KeyPath, p)
			return nil
		}
		if err != nil {
			exp.Errors = append(exp.Errors, &AccessError{Path: p, Err: err})
			return nil
		}
		if info.IsDir() {
			logger.Debug("Not following directory symlink", logger.KeyPath, p)
			return nil
		}
		if !info.Mode().IsRegular() {
			logger.Debug("Skipping non-regular file", logger.KeyPath, p)
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			exp.Errors = append(exp.Errors, &AccessError{Path: p, Err: err})
			return nil
		}
		exp.Resources = append(exp.Resources, New(p, filepath.ToSlash(rel), info))
		return nil
	})
	if err != nil && !errors.Is(err, fs.SkipDir) {
		exp.Errors = append(exp.Errors, &AccessError{Path: root, Err: err})
	}
}

// Window applies skip and limit to an ordered resource list.
func Window(rs []*Resource, skip, limit int) []*Resource {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(rs) {
		return nil
	}
	rs = rs[skip:]
	if limit > 0 && limit < len(rs) {
		rs = rs[:limit]
	}
	return rs
}
