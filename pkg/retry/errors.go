package retry

import (
	"errors"
	"fmt"
)

// TransientNetworkError is what a retryable operation surfaces once every
// attempt has failed.
type TransientNetworkError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// AsTransient extracts a TransientNetworkError from err.
func AsTransient(err error) (*TransientNetworkError, bool) {
	var te *TransientNetworkError
	ok := errors.As(err, &te)
	return te, ok
}
