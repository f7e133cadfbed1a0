package domain

// AgentID is the opaque, globally unique identifier of an agent. It is
// issued by the external identity collaborator and never reinterpreted here.
type AgentID string

// String returns the string form of the agent identifier.
func (a AgentID) String() string { return string(a) }

// X25519Public is a Curve25519 public key.
type X25519Public [32]byte

// Slice returns the key as a []byte.
func (p X25519Public) Slice() []byte { return p[:] }

// IsZero reports whether the key is all zero bytes.
func (p X25519Public) IsZero() bool {
	var v byte
	for _, b := range p {
		v |= b
	}
	return v == 0
}

// X25519Private is a Curve25519 private key.
type X25519Private [32]byte

// Slice returns the key as a []byte.
func (k X25519Private) Slice() []byte { return k[:] }

// Ed25519Public is an Ed25519 signing public key.
type Ed25519Public [32]byte

// Slice returns the key as a []byte.
func (p Ed25519Public) Slice() []byte { return p[:] }

// Ed25519Private is an Ed25519 signing private key.
type Ed25519Private [64]byte

// Slice returns the key as a []byte.
func (k Ed25519Private) Slice() []byte { return k[:] }

// IdentityKeys is the public half of an agent's long-term identity: the
// X25519 key used in handshake DH computations and the hybrid signing pair
// (Ed25519 + ML-DSA-65) that anchors medium-key signatures. The private
// signing halves live with the identity collaborator and never enter this
// engine.
type IdentityKeys struct {
	DHPub    X25519Public
	SigPub   Ed25519Public
	PQSigPub []byte
}
