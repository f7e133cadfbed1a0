// Package agreement runs the hybrid handshake that seeds a new session: an
// X3DH exchange over X25519 combined with an ML-KEM-768 encapsulation
// against the responder's medium key. Both sides derive a bit-identical
// root key and initial chain key without further communication.
package agreement
