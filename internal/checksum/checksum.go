// Package checksum fingerprints task text so runs can be correlated without
// recording the task itself.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags every digest with its algorithm.
const Prefix = "sha256:"

// DigestString returns the SHA-256 of s as "sha256:<hex>".
func DigestString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return Prefix + hex.EncodeToString(hash[:])
}
