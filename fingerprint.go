package autolabel

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes returns the hex encoded sha256 digest of data
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint produces the deterministic cache key for an image/prompt
// pair.  Identical image content with an identical prompt always maps
// to the same key.
func Fingerprint(imageData []byte, prompt string) string {
	return HashBytes(imageData) + "_" + HashBytes([]byte(prompt))
}
