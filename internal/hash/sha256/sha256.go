// Package sha256 fingerprints response bodies so sinks can spot unchanged
// pages.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hex returns the hex SHA-256 digest of data, or "" for an empty body.
func Hex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
