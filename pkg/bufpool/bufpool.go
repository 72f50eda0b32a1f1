// Package bufpool pools the read buffers used while hashing and streaming
// local files.
//
// Buffers come in two size classes. Requests above the large class are
// allocated directly and never pooled, so one oversized read does not pin
// memory for the rest of the batch.
//
//	buf := bufpool.Get(size)
//	defer bufpool.Put(buf)
package bufpool

import (
	"sync"
)

const (
	// DefaultSmallSize serves short reads such as content sniffing (32KB).
	DefaultSmallSize = 32 << 10

	// DefaultLargeSize serves digest computation (256KB).
	DefaultLargeSize = 256 << 10
)

// Pool hands out byte slices from two sync.Pools keyed by capacity.
type Pool struct {
	small     sync.Pool
	large     sync.Pool
	smallSize int
	largeSize int
}

// Config sizes the two classes. Zero values use the defaults.
type Config struct {
	SmallSize int
	LargeSize int
}

// NewPool creates a pool. A nil cfg uses the default sizes.
func NewPool(cfg *Config) *Pool {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.SmallSize <= 0 {
		c.SmallSize = DefaultSmallSize
	}
	if c.LargeSize <= c.SmallSize {
		c.LargeSize = max(DefaultLargeSize, c.SmallSize*2)
	}

	p := &Pool{smallSize: c.SmallSize, largeSize: c.LargeSize}
	p.small.New = func() any {
		buf := make([]byte, p.smallSize)
		return &buf
	}
	p.large.New = func() any {
		buf := make([]byte, p.largeSize)
		return &buf
	}
	return p
}

// Get returns a slice of length size. Its capacity may be larger.
// Return it with Put once done.
func (p *Pool) Get(size int) []byte {
	var bufPtr *[]byte
	switch {
	case size <= p.smallSize:
		bufPtr = p.small.Get().(*[]byte)
	case size <= p.largeSize:
		bufPtr = p.large.Get().(*[]byte)
	default:
		return make([]byte, size)
	}
	return (*bufPtr)[:size]
}

// Put returns buf to its class. Slices of any other capacity are dropped.
func (p *Pool) Put(buf []byte) {
	if buf == nil {
		return
	}
	full := buf[:cap(buf)]
	switch cap(buf) {
	case p.smallSize:
		p.small.Put(&full)
	case p.largeSize:
		p.large.Put(&full)
	}
}

var globalPool = NewPool(nil)

// Get takes a buffer from the package-level pool.
func Get(size int) []byte {
	return globalPool.Get(size)
}

// Put returns a buffer to the package-level pool.
func Put(buf []byte) {
	globalPool.Put(buf)
}
