// Package checksum computes and caches fixity digests of local resources.
package checksum

import (
	"crypto/md5"  //nolint:gosec // fixity algorithm, not used for security
	"crypto/sha1" //nolint:gosec // fixity algorithm, not used for security
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"strings"
)

// Algorithm is a fixity algorithm tag as the repository spells it.
type Algorithm string

const (
	MD5    Algorithm = "MD5"
	SHA1   Algorithm = "SHA-1"
	SHA256 Algorithm = "SHA-256"
	SHA512 Algorithm = "SHA-512"
)

// Algorithms lists the supported algorithms.
var Algorithms = []Algorithm{MD5, SHA1, SHA256, SHA512}

// ParseAlgorithm accepts the common spellings ("md5", "sha1", "SHA-256", "sha_512").
func ParseAlgorithm(s string) (Algorithm, error) {
	norm := strings.NewReplacer("-", "", "_", "").Replace(strings.ToUpper(strings.TrimSpace(s)))
	switch norm {
	case "MD5":
		return MD5, nil
	case "SHA1":
		return SHA1, nil
	case "SHA256":
		return SHA256, nil
	case "SHA512":
		return SHA512, nil
	}
	return "", fmt.Errorf("unsupported fixity algorithm %q", s)
}

// New returns a fresh hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case MD5:
		return md5.New() //nolint:gosec
	case SHA1:
		return sha1.New() //nolint:gosec
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	}
	panic(fmt.Sprintf("checksum: unknown algorithm %q", string(a)))
}

// Valid reports whether a is one of the canonical algorithm tags.
func (a Algorithm) Valid() bool {
	switch a {
	case MD5, SHA1, SHA256, SHA512:
		return true
	}
	return false
}

func (a Algorithm) String() string { return string(a) }

// Digest is an algorithm-tagged lowercase hex digest.
type Digest struct {
	Algorithm Algorithm
	Value     string
}

// Equal compares two digests; hex values compare case-insensitively.
func (d Digest) Equal(o Digest) bool {
	return d.Algorithm == o.Algorithm && strings.EqualFold(d.Value, o.Value)
}

func (d Digest) String() string {
	return fmt.Sprintf("%s:%s", d.Algorithm, d.Value)
}
