package primitive

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KDF derives outLen bytes from ikm via HKDF-SHA-256.
func KDF(ikm, salt, info []byte, outLen int) []byte {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, outLen)
	_, _ = io.ReadFull(r, out)
	return out
}
