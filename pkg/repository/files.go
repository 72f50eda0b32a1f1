package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
)

// AddFile streams content to the proxied ingest endpoint. The body is
// written through a pipe so the file is never held in memory.
func (c *Client) AddFile(ctx context.Context, meta FileMeta, content io.Reader) (*FileEntry, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAddForm(mw, meta.FileName, metaJSON, content))
	}()

	path, q := c.datasetPath("/add")
	return c.add(ctx, path, q, pr, mw.FormDataContentType())
}

func writeAddForm(mw *multipart.Writer, fileName string, metaJSON []byte, content io.Reader) error {
	if err := mw.WriteField("jsonData", string(metaJSON)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return mw.Close()
}

// RegisterFile commits a file previously transferred directly to storage.
func (c *Client) RegisterFile(ctx context.Context, meta FileMeta) (*FileEntry, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal file metadata: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := mw.WriteField("jsonData", string(metaJSON))
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	path, q := c.datasetPath("/add")
	return c.add(ctx, path, q, pr, mw.FormDataContentType())
}

func (c *Client) add(ctx context.Context, path string, q url.Values, body io.Reader, contentType string) (*FileEntry, error) {
	var res addResult
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        path,
		query:       q,
		body:        body,
		contentType: contentType,
	}, &res)
	if err != nil {
		return nil, err
	}
	if len(res.Files) == 0 {
		return nil, fmt.Errorf("repository accepted the file but returned no file record")
	}
	return &res.Files[0], nil
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
