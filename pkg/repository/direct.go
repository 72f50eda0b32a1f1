package repository

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// PutObject sends one part (or a whole single-part object) to a presigned
// storage URL and returns the ETag the storage acknowledged it with. The API
// token is never sent to storage.
func (c *Client) PutObject(ctx context.Context, target string, body io.Reader, size int64, tagTemp bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.resolve(target), body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}
	if tagTemp {
		// Storage backends expire objects still tagged temp, which covers
		// reservations that are never committed.
		req.Header.Set("x-amz-tagging", "dv-state=temp")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("PUT part: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		return "", newAPIError(resp.StatusCode, respBody)
	}
	etag := strings.Trim(resp.Header.Get("ETag"), `"`)
	return etag, nil
}

// CompleteMultipart tells the repository every part was stored. etags maps
// part numbers to the ETags returned by PutObject.
func (c *Client) CompleteMultipart(ctx context.Context, completeURL string, etags map[int]string) error {
	payload := make(map[string]string, len(etags))
	for n, tag := range etags {
		payload[strconv.Itoa(n)] = tag
	}
	body, err := jsonBody(payload)
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		method:      http.MethodPut,
		path:        completeURL,
		body:        body,
		contentType: "application/json",
	}, nil)
}

// AbortMultipart releases a multipart reservation.
func (c *Client) AbortMultipart(ctx context.Context, abortURL string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: abortURL}, nil)
}
