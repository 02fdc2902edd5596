package webhooks

import (
	"crypto/sha256"
	"encoding/hex"
)

const fingerprintPrefix = "sha256:"

// Fingerprint hashes the exact received bytes, never a re-serialized form, so
// key order differences cannot hide a redelivery.
func Fingerprint(raw []byte) string {
	sum := sha256.Sum256(raw)
	return fingerprintPrefix + hex.EncodeToString(sum[:])
}
