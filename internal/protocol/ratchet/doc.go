// Package ratchet implements the Double Ratchet state machine over
// domain.RatchetState: a DH ratchet that re-keys whenever the peer presents
// a new ratchet public key, composed with a symmetric chain that advances
// one KDF step per message.
//
// The package is pure state manipulation; serialization of concurrent calls
// on one session is the owner's job (see internal/session).
package ratchet
