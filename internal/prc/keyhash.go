package prc

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// KeyHash derives the limiter partition key for an API key. It is stable for
// the process lifetime, short enough to log, and does not reveal the key.
func KeyHash(apiKey string) string {
	sum := blake2b.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}
