package primitive

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

// Fingerprint returns a short base58 fingerprint of a public key.
//
// It hashes with SHA-256 and truncates to 10 bytes before encoding.
func Fingerprint(pub []byte) string {
	sum := sha256.Sum256(pub)
	return base58.Encode(sum[:10])
}
