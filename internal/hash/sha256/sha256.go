// Package sha256 fingerprints downloaded descriptors.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags digests so they are self-describing in event notes and logs.
const Prefix = "sha256:"

// Digest returns the hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Tagged returns Digest prefixed with Prefix.
func Tagged(data []byte) string {
	return Prefix + Digest(data)
}
