// Package keystore manages the local agent's private key material (medium
// and one-time key halves with their lifecycle states), a TTL-bounded
// read-through cache over the external directory, and in-memory
// implementations of the directory and identity-signer collaborators for
// tests and tooling.
package keystore
