package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dvuploader/pkg/checksum"
	"github.com/marmos91/dvuploader/pkg/lockwait"
	"github.com/marmos91/dvuploader/pkg/repository"
	"github.com/marmos91/dvuploader/pkg/resource"
	"github.com/marmos91/dvuploader/pkg/retry"
)

// ConfigurationError reports invalid batch options. It is returned before
// any file is touched.
type ConfigurationError struct {
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// IsConfigurationError reports whether err is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ReasonOf maps a file failure to its reason.
func ReasonOf(err error) Reason {
	var (
		lockErr *lockwait.LockTimeoutError
		apiErr  *repository.APIError
	)
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, checksum.ErrChecksumMismatch):
		return ReasonChecksumMismatch
	case errors.As(err, &lockErr):
		return ReasonLockTimeout
	case resource.IsAccessError(err):
		return ReasonResourceAccess
	}
	if _, ok := retry.AsTransient(err); ok {
		return ReasonTransientNetwork
	}
	if errors.As(err, &apiErr) {
		if apiErr.Transient() {
			return ReasonTransientNetwork
		}
		return ReasonRejected
	}
	if retry.Classify(err) == retry.Retryable {
		return ReasonTransientNetwork
	}
	return ReasonUnclassifiedError
}
