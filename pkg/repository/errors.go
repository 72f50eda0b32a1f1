package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a non-success response from the repository or the storage
// backend.
type APIError struct {
	StatusCode int    `json:"-"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{StatusCode: status}
	if json.Unmarshal(body, e) == nil && e.Message != "" {
		return e
	}
	e.Message = strings.TrimSpace(string(body))
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func (e *APIError) Error() string {
	return fmt.Sprintf("repository returned %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the status may clear on retry: request timeouts,
// throttling and server-side errors.
func (e *APIError) Transient() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// IsAuthError reports an authentication or authorization failure.
func (e *APIError) IsAuthError() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsNotFound reports a missing dataset or resource.
func (e *APIError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// IsRejection reports whether err is a permanent refusal by the repository,
// such as an invalid destination or failed authentication. A rejection aborts
// the file, never the batch.
func IsRejection(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && !ae.Transient()
}

// IsAuthError reports whether err wraps an authentication failure.
func IsAuthError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.IsAuthError()
}
