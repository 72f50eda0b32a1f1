package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Transient is implemented by errors that know whether they may clear on
// their own, such as repository API errors carrying an HTTP status.
type Transient interface {
	Transient() bool
}

// Classify decides whether err is worth retrying.
func Classify(err error) Kind {
	if err == nil {
		return Success
	}

	// Cancellation is the caller's decision, not a transient fault.
	if errors.Is(err, context.Canceled) {
		return Permanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}

	var t Transient
	if errors.As(err, &t) {
		if t.Transient() {
			return Retryable
		}
		return Permanent
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Retryable
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Retryable
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset",
		"connection refused",
		"broken pipe",
		"timeout",
		"temporary failure",
		"server closed idle connection",
		"unexpected eof",
	} {
		if strings.Contains(msg, s) {
			return Retryable
		}
	}
	return Permanent
}
