// Package primitive wraps the raw cryptographic algorithms behind the
// engine: ChaCha20-Poly1305 AEAD, Ed25519 and ML-DSA-65 signatures, X25519
// Diffie-Hellman, ML-KEM-768 encapsulation, and HKDF-SHA-256. The pairing of
// classical and post-quantum algorithms is fixed by the protocol, not chosen
// per call.
//
// Every function is deterministic given its inputs; operations that need
// randomness draw it from the Suite's injectable reader so tests can pin it.
package primitive
