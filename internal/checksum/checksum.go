// Package checksum fingerprints file contents so the sync loop can tell an
// external change from the echo of its own write.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Text returns the digest of s as written to disk.
func Text(s string) string {
	return Sum([]byte(s))
}
