package domain

// RatchetHeader travels with every ciphertext.
type RatchetHeader struct {
	DHPub []byte
	PN    uint32
	N     uint32
}

// RatchetState is the full per-session Double Ratchet state for one peer
// pair. It is mutated only under the owning session's lock.
type RatchetState struct {
	SessionID string

	RootKey   []byte
	DHPriv    X25519Private
	DHPub     X25519Public
	PeerDHPub X25519Public

	SendCK []byte
	RecvCK []byte

	Ns uint32
	Nr uint32
	PN uint32

	// Skipped maps (peer ratchet pub, counter) to a stored message key so
	// out-of-order delivery within MaxSkip can still decrypt. It doubles as
	// the replay cache: a counter below Nr with no stored key is a replay.
	Skipped map[string][]byte

	MaxSkip uint32
}

// Clone returns a deep copy of the state, duplicating every secret buffer.
func (st RatchetState) Clone() RatchetState {
	out := st
	out.RootKey = append([]byte(nil), st.RootKey...)
	out.SendCK = append([]byte(nil), st.SendCK...)
	out.RecvCK = append([]byte(nil), st.RecvCK...)
	out.Skipped = make(map[string][]byte, len(st.Skipped))
	for k, v := range st.Skipped {
		out.Skipped[k] = append([]byte(nil), v...)
	}
	return out
}
