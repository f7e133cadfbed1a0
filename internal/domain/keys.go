package domain

import "encoding/binary"

// MediumKeyID uniquely identifies a signed medium-term key.
type MediumKeyID string

// String returns the string form of the identifier.
func (id MediumKeyID) String() string { return string(id) }

// OneTimeKeyID uniquely identifies a one-time key.
type OneTimeKeyID string

// String returns the string form of the identifier.
func (id OneTimeKeyID) String() string { return string(id) }

// KeyState tracks the lifecycle of a medium-term key.
type KeyState uint8

const (
	// KeyActive keys are used for new handshakes and new encryption.
	KeyActive KeyState = iota
	// KeyGrace keys remain valid for decapsulation and verification of
	// already-in-flight material only.
	KeyGrace
	// KeyExpired keys are past their grace deadline and unusable.
	KeyExpired
	// KeyRevoked keys were emergency-revoked and are unusable for anything.
	KeyRevoked
)

// String returns a human-readable state name.
func (s KeyState) String() string {
	switch s {
	case KeyActive:
		return "active"
	case KeyGrace:
		return "grace"
	case KeyExpired:
		return "expired"
	case KeyRevoked:
		return "revoked"
	}
	return "unknown"
}

// MediumKey is the public half of a signed medium-term key: an X25519 key
// for handshake DH plus an ML-KEM-768 key for encapsulation, hybrid-signed
// by the owner's identity keys.
type MediumKey struct {
	ID           MediumKeyID
	DHPub        X25519Public
	KEMPub       []byte
	CreatedAt    int64
	ExpiresAt    int64
	SigClassical []byte
	SigPQ        []byte
}

// SigningBytes returns the canonical byte sequence covered by the medium
// key's hybrid signature: a fixed label followed by every field except the
// signatures, each length-prefixed.
func (k MediumKey) SigningBytes() []byte {
	out := make([]byte, 0, 32+len(k.KEMPub)+64)
	out = append(out, []byte("agentseal/medium-key/v1")...)
	out = appendPrefixed(out, []byte(k.ID))
	out = appendPrefixed(out, k.DHPub[:])
	out = appendPrefixed(out, k.KEMPub)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(k.CreatedAt))
	out = append(out, ts[:]...)
	binary.BigEndian.PutUint64(ts[:], uint64(k.ExpiresAt))
	out = append(out, ts[:]...)
	return out
}

// OneTimeKeyPublic is the published half of a single-use key. The X25519
// half feeds the fourth handshake DH; the KEM half travels with it so the
// bundle layout stays symmetric with the medium key.
type OneTimeKeyPublic struct {
	ID     OneTimeKeyID
	DHPub  X25519Public
	KEMPub []byte
}

// KeyBundle is an agent's published key material: identity public keys, the
// current signed medium key, and an ordered pool of one-time keys. Version
// increases on every mutation so caches and handshakes can bind to an exact
// snapshot.
type KeyBundle struct {
	AgentID     AgentID
	Identity    IdentityKeys
	Medium      MediumKey
	OneTimeKeys []OneTimeKeyPublic
	Version     uint64
}

func appendPrefixed(dst, b []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	dst = append(dst, n[:]...)
	return append(dst, b...)
}
