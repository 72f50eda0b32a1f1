package upload

import (
	"context"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/marmos91/dvuploader/internal/logger"
	"github.com/marmos91/dvuploader/pkg/bufpool"
	"github.com/marmos91/dvuploader/pkg/resource"
)

const (
	defaultMIMEType = "application/octet-stream"

	// sniffLen matches the header length mimetype inspects by default.
	sniffLen = 3072
)

// detectMIME sniffs the content type of res, falling back to the extension.
// Parameters such as charset are dropped; the repository only uses the
// media type to pick an ingest path.
func detectMIME(ctx context.Context, res *resource.Resource) string {
	var detected string
	if rc, err := res.Open(); err == nil {
		buf := bufpool.Get(sniffLen)
		n, err := io.ReadFull(rc, buf)
		_ = rc.Close()
		if err == nil || err == io.EOF || err == io.ErrUnexpectedEOF {
			detected = mimetype.Detect(buf[:n]).String()
		}
		bufpool.Put(buf)
	}

	if detected == "" || detected == defaultMIMEType || strings.HasPrefix(detected, "text/plain") {
		if byExt := mime.TypeByExtension("." + res.Ext()); byExt != "" {
			detected = byExt
		}
	}
	if detected == "" {
		detected = defaultMIMEType
	}

	if mediaType, _, err := mime.ParseMediaType(detected); err == nil {
		detected = mediaType
	}
	logger.DebugCtx(ctx, "Detected content type", logger.KeyMimeType, detected)
	return detected
}
