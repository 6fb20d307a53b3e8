package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short stable digest of the input, used to key cached
// views by their request parameters.
func Fingerprint(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:8])
}
