// Package repository is a REST client for the research-data repository the
// uploader targets: listing, locks, proxied ingest and the direct-to-storage
// reserve/transfer/commit sequence.
package repository

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// APIKeyHeader carries the repository API token.
const APIKeyHeader = "X-Dataverse-key"

// Client talks to one dataset of one repository.
type Client struct {
	baseURL    string
	datasetPID string
	token      string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the API token sent with every repository request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithInsecureTLS disables certificate verification, for test repositories
// with self-signed certificates.
func WithInsecureTLS() Option {
	return func(c *Client) {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(tr)}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// New creates a client for the dataset identified by datasetPID.
//
// The HTTP client has no overall timeout: transfers of large parts can take
// arbitrarily long, so callers bound each operation through its context.
func New(baseURL, datasetPID string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		datasetPID: datasetPID,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		userAgent:  "dvuploader",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DatasetPID returns the persistent identifier of the target dataset.
func (c *Client) DatasetPID() string { return c.datasetPID }

// envelope is the repository's standard response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// request describes one call against the repository API.
type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	length      int64
}

// datasetPath builds an API path for the configured dataset.
func (c *Client) datasetPath(suffix string) (string, url.Values) {
	return "/api/datasets/:persistentId" + suffix, url.Values{"persistentId": {c.datasetPID}}
}

// do sends req and decodes the envelope's data into result.
func (c *Client) do(ctx context.Context, req request, result any) error {
	u := c.resolve(req.path)
	if len(req.query) > 0 {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + req.query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, req.body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if req.length > 0 {
		httpReq.ContentLength = req.length
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		httpReq.Header.Set(APIKeyHeader, c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if result == nil || len(respBody) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if strings.EqualFold(env.Status, "ERROR") {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, result); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}

// resolve turns a path or absolute URL returned by the repository into a URL.
func (c *Client) resolve(p string) string {
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return p
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return c.baseURL + p
}

// getData performs a GET against the dataset and decodes the data field.
func getData[T any](ctx context.Context, c *Client, suffix string, extra url.Values) (T, error) {
	var result T
	path, q := c.datasetPath(suffix)
	for k, v := range extra {
		q[k] = v
	}
	err := c.do(ctx, request{method: http.MethodGet, path: path, query: q}, &result)
	return result, err
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}
	return bytes.NewReader(data), nil
}
