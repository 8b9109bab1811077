// Package addressing computes deterministic content hashes for content
// references, nodes and edges, and builds and verifies content-addressed
// references.
//
// All functions are pure: no shared state, no I/O. Structured inputs are
// hashed over a canonical JSON form (compact, fixed key order, absent fields
// as null, map keys sorted) so independent implementations agree on the hash
// of the same logical content.
package addressing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"hash"
	"strings"
)

// Algorithm names a supported digest.
type Algorithm string

const (
	SHA256 Algorithm = "SHA256"
	SHA1   Algorithm = "SHA1"
	MD5    Algorithm = "MD5"

	// DefaultAlgorithm is used for unrecognized names.
	DefaultAlgorithm = SHA256
)

// ParseAlgorithm resolves a case-insensitive algorithm name. Unrecognized
// names resolve to DefaultAlgorithm; this never fails.
func ParseAlgorithm(name string) Algorithm {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "-", "")
	switch Algorithm(normalized) {
	case SHA1:
		return SHA1
	case MD5:
		return MD5
	default:
		return DefaultAlgorithm
	}
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case MD5:
		return md5.New()
	default:
		return sha256.New()
	}
}

func (a Algorithm) String() string {
	return string(a)
}
