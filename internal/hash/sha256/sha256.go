// Package sha256 provides SHA-256 hashing utilities used for item identity.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements pulse.Hasher using SHA-256. A positive Length truncates
// the hex digest to that many characters.
type Hasher struct {
	Length int
}

// New returns a SHA-256 hasher producing full 64-character digests.
func New() *Hasher {
	return &Hasher{}
}

// NewTruncated returns a hasher that keeps the first length hex characters.
func NewTruncated(length int) *Hasher {
	return &Hasher{Length: length}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if h != nil && h.Length > 0 && h.Length < len(digest) {
		digest = digest[:h.Length]
	}
	return digest, nil
}
