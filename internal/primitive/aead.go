package primitive

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"agentseal/internal/domain"
)

const (
	// AEADKeySize is the ChaCha20-Poly1305 key length.
	AEADKeySize = chacha20poly1305.KeySize
	// AEADNonceSize is the ChaCha20-Poly1305 nonce length.
	AEADNonceSize = chacha20poly1305.NonceSize
)

// AEADEncrypt seals plaintext under key with the given nonce and associated
// data.
func AEADEncrypt(key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead init: %w", err)
	}
	if len(nonce) != AEADNonceSize {
		return nil, fmt.Errorf("aead encrypt: bad nonce length %d", len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADDecrypt opens ciphertext. Any tag mismatch fails closed with
// domain.ErrAuthenticationFailed and no partial plaintext.
func AEADDecrypt(key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead init: %w", err)
	}
	if len(nonce) != AEADNonceSize {
		return nil, domain.ErrAuthenticationFailed
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, domain.ErrAuthenticationFailed
	}
	return pt, nil
}
