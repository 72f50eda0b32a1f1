package checksum

import (
	"context"
	"encoding/hex"
	"hash"
	"io"

	"github.com/marmos91/dvuploader/pkg/bufpool"
)

// chunkSize bounds the read buffer; files are never held in memory whole.
const chunkSize = bufpool.DefaultLargeSize

// Compute hashes r once and returns a lowercase hex digest per algorithm.
func Compute(ctx context.Context, r io.Reader, algs ...Algorithm) (map[Algorithm]string, error) {
	hashes := make(map[Algorithm]hash.Hash, len(algs))
	writers := make([]io.Writer, 0, len(algs))
	for _, a := range algs {
		if _, dup := hashes[a]; dup {
			continue
		}
		h := a.New()
		hashes[a] = h
		writers = append(writers, h)
	}

	buf := bufpool.Get(chunkSize)
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(io.MultiWriter(writers...), &ctxReader{ctx: ctx, r: r}, buf); err != nil {
		return nil, err
	}

	out := make(map[Algorithm]string, len(hashes))
	for a, h := range hashes {
		out[a] = hex.EncodeToString(h.Sum(nil))
	}
	return out, nil
}

// ctxReader stops a long hash when the batch is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
