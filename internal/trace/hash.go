// Package trace records reconciliation decisions as a canonical change log.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeHash returns the hex sha256 of a canonical encoding, or "" for empty
// input.
func ComputeHash(canonical []byte) string {
	if len(canonical) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
