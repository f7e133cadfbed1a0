// Package envelope builds and checks the signed wire message. The canonical
// byte layout is the bit-exact interoperability contract: a fixed, versioned,
// length-prefixed concatenation of every signed field, so two semantically
// equal envelopes always produce identical signing input.
package envelope
