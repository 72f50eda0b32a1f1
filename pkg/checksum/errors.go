package checksum

import (
	"errors"
	"fmt"
)

// ErrChecksumMismatch is the sentinel matched by MismatchError.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// MismatchError reports that the repository's digest for a stored object
// differs from the local one. It signals corruption in transit and is never
// retried.
type MismatchError struct {
	Path     string
	Expected Digest
	Actual   Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: local %s, remote %s", e.Path, e.Expected, e.Actual)
}

func (e *MismatchError) Is(target error) bool { return target == ErrChecksumMismatch }

// Verify compares a local digest against the remote one.
func Verify(path string, local, remote Digest) error {
	if local.Equal(remote) {
		return nil
	}
	return &MismatchError{Path: path, Expected: local, Actual: remote}
}
