package checksum

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/marmos91/dvuploader/internal/logger"
	"github.com/marmos91/dvuploader/pkg/resource"
)

// Store persists digests across runs. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(key string) (string, bool, error)
	Put(key, digest string) error
	Close() error
}

// Engine computes digests for resources and caches them per
// (resource, algorithm). An optional Store carries digests across
// invocations, keyed by path, size and modification time so a changed file
// is never served a stale digest.
type Engine struct {
	store    Store
	group    singleflight.Group
	observer Observer
}

// Digest sources reported to an Observer.
const (
	SourceMemory   = "memory"
	SourceStore    = "store"
	SourceComputed = "computed"
)

// Observer is told where each requested digest came from.
type Observer func(source string)

// SetObserver installs fn to be called once per digest served.
func (e *Engine) SetObserver(fn Observer) {
	e.observer = fn
}

func (e *Engine) observe(source string, n int) {
	if e.observer == nil {
		return
	}
	for i := 0; i < n; i++ {
		e.observer(source)
	}
}

// NewEngine creates an Engine. store may be nil.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Digest returns the digest of res for alg, computing it at most once.
func (e *Engine) Digest(ctx context.Context, res *resource.Resource, alg Algorithm) (Digest, error) {
	m, err := e.Digests(ctx, res, alg)
	if err != nil {
		return Digest{}, err
	}
	return Digest{Algorithm: alg, Value: m[alg]}, nil
}

// Digests returns digests for every requested algorithm. Missing entries are
// computed together in a single read of the file.
func (e *Engine) Digests(ctx context.Context, res *resource.Resource, algs ...Algorithm) (map[Algorithm]string, error) {
	out := make(map[Algorithm]string, len(algs))
	var missing []Algorithm

	for _, a := range algs {
		if !a.Valid() {
			return nil, fmt.Errorf("unsupported fixity algorithm %q", string(a))
		}
		if v, ok := res.Digest(string(a)); ok {
			out[a] = v
			e.observe(SourceMemory, 1)
			continue
		}
		if v, ok := e.lookup(res, a); ok {
			res.StoreDigest(string(a), v)
			out[a] = v
			e.observe(SourceStore, 1)
			continue
		}
		missing = append(missing, a)
	}
	if len(missing) == 0 {
		return out, nil
	}

	key := res.LocalPath + "|" + joinAlgs(missing)
	v, err, _ := e.group.Do(key, func() (any, error) {
		return e.compute(ctx, res, missing)
	})
	if err != nil {
		return nil, err
	}
	e.observe(SourceComputed, len(missing))
	for a, d := range v.(map[Algorithm]string) {
		out[a] = d
	}
	return out, nil
}

func (e *Engine) compute(ctx context.Context, res *resource.Resource, algs []Algorithm) (map[Algorithm]string, error) {
	rc, err := res.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	digests, err := Compute(ctx, rc, algs...)
	if err != nil {
		// An interrupted read is the caller's stop, not a fault in the file.
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, err
		}
		return nil, &resource.AccessError{Path: res.LocalPath, Err: err}
	}

	for a, v := range digests {
		res.StoreDigest(string(a), v)
		if e.store != nil {
			if err := e.store.Put(StoreKey(res, a), v); err != nil {
				logger.Warn("Failed to persist digest", logger.KeyPath, res.LocalPath, logger.KeyError, err)
			}
		}
	}
	logger.Debug("Computed digests", logger.KeyPath, res.RelPath, logger.KeyAlgorithm, joinAlgs(algs))
	return digests, nil
}

func (e *Engine) lookup(res *resource.Resource, a Algorithm) (string, bool) {
	if e.store == nil {
		return "", false
	}
	v, ok, err := e.store.Get(StoreKey(res, a))
	if err != nil {
		logger.Warn("Digest cache read failed", logger.KeyPath, res.LocalPath, logger.KeyError, err)
		return "", false
	}
	return v, ok
}

// StoreKey identifies a digest of one version of a file.
func StoreKey(res *resource.Resource, a Algorithm) string {
	return strings.Join([]string{
		string(a),
		res.LocalPath,
		strconv.FormatInt(res.Size, 10),
		strconv.FormatInt(res.ModTime.UnixNano(), 10),
	}, "\x00")
}

func joinAlgs(algs []Algorithm) string {
	s := make([]string, len(algs))
	for i, a := range algs {
		s[i] = string(a)
	}
	return strings.Join(s, ",")
}
