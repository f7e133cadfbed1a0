package domain

// Priority orders envelopes at the transport; the engine only carries it.
type Priority uint8

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUrgent
)

// Envelope is the signed wire message. It is constructed once per message
// and never mutated after signing; the canonical byte layout over all fields
// except the signatures is the interoperability contract.
type Envelope struct {
	Version     uint16
	MessageID   string
	SenderID    AgentID
	RecipientID AgentID

	Ciphertext []byte
	Nonce      []byte

	// WrappedKey carries the encoded handshake payload (ephemeral public
	// key, one-time key id, KEM ciphertext) on the first message of a
	// session and is empty afterwards. KeyID names the recipient medium key
	// the handshake targeted.
	WrappedKey []byte
	KeyID      MediumKeyID

	RatchetHeader *RatchetHeader

	SigClassical []byte
	SigPQ        []byte

	Priority      Priority
	TTL           uint32
	CorrelationID string
	Timestamp     int64
}

// DecryptedMessage is the gate's output for a received envelope.
type DecryptedMessage struct {
	MessageID     string
	SenderID      AgentID
	RecipientID   AgentID
	Plaintext     []byte
	CorrelationID string
	Timestamp     int64
}

// Handshake carries the key agreement parameters the initiator attaches to
// the first envelope of a new session.
type Handshake struct {
	InitiatorID    AgentID
	InitiatorDHPub X25519Public
	EphemeralPub   X25519Public
	MediumKeyID    MediumKeyID
	OneTimeKeyID   OneTimeKeyID
	KEMCiphertext  []byte
	BundleVersion  uint64
}
