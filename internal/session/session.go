package session

import (
	"errors"
	"sync"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
	"agentseal/internal/protocol/ratchet"
)

// Session wraps one peer's ratchet state behind a mutex. The ratchet is
// inherently sequential, so one mutation is in flight at a time; callers on
// other sessions proceed independently.
type Session struct {
	mu sync.Mutex

	peer domain.AgentID

	// mediumKeyID records which responder medium key the root derivation
	// depended on, so emergency revocation can tear the session down.
	mediumKeyID domain.MediumKeyID

	suite *primitive.Suite
	state domain.RatchetState

	// pendingHandshake is attached to outbound envelopes until the peer is
	// known to have bootstrapped; nil on responder-side sessions.
	pendingHandshake []byte

	desynced bool
	torn     bool
}

// Seed is what a session needs from a completed key agreement.
type Seed struct {
	SessionID   string
	RootKey     []byte
	ChainKey    []byte
	MediumKeyID domain.MediumKeyID
	MaxSkip     uint32
}

// NewInitiator builds the initiating side of a session from an agreement
// result.
func NewInitiator(suite *primitive.Suite, peer domain.AgentID, res Seed, handshake []byte) (*Session, error) {
	st, err := ratchet.InitInitiator(suite, res.SessionID, res.RootKey, res.ChainKey, res.MaxSkip)
	if err != nil {
		return nil, err
	}
	return &Session{
		peer:             peer,
		mediumKeyID:      res.MediumKeyID,
		suite:            suite,
		state:            st,
		pendingHandshake: handshake,
	}, nil
}

// NewResponder builds the responding side of a session from an agreement
// result and the initiator's first ratchet public key.
func NewResponder(suite *primitive.Suite, peer domain.AgentID, res Seed, initiatorRatchetPub domain.X25519Public) (*Session, error) {
	st, err := ratchet.InitResponder(suite, res.SessionID, res.RootKey, res.ChainKey, initiatorRatchetPub, res.MaxSkip)
	if err != nil {
		return nil, err
	}
	return &Session{
		peer:        peer,
		mediumKeyID: res.MediumKeyID,
		suite:       suite,
		state:       st,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SessionID
}

// Peer returns the remote agent.
func (s *Session) Peer() domain.AgentID { return s.peer }

// MediumKeyID returns the responder medium key the session was rooted in.
func (s *Session) MediumKeyID() domain.MediumKeyID { return s.mediumKeyID }

// Encrypt advances the sending chain and seals plaintext.
func (s *Session) Encrypt(ad, plaintext []byte) (domain.RatchetHeader, []byte, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return domain.RatchetHeader{}, nil, nil, err
	}
	return ratchet.Encrypt(s.suite, &s.state, ad, plaintext)
}

// Decrypt opens a message. A gap beyond the skip window latches the session
// into the terminal desynchronized state; every later call fails fast with
// ErrDesynchronized so the caller re-runs the key agreement.
func (s *Session) Decrypt(ad []byte, h domain.RatchetHeader, nonce, ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return nil, err
	}
	pt, err := ratchet.Decrypt(s.suite, &s.state, ad, h, nonce, ciphertext)
	if errors.Is(err, domain.ErrDesynchronized) {
		s.desynced = true
		ratchet.Wipe(&s.state)
	}
	return pt, err
}

// PendingHandshake returns the encoded handshake to attach to outbound
// envelopes, or nil once bootstrap is confirmed.
func (s *Session) PendingHandshake() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingHandshake
}

// ConfirmBootstrap drops the pending handshake after the first accepted
// delivery (or any inbound message, which proves the peer has the session).
func (s *Session) ConfirmBootstrap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingHandshake = nil
}

// Teardown wipes all secret state. The session is unusable afterwards.
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ratchet.Wipe(&s.state)
	s.torn = true
}

func (s *Session) usable() error {
	if s.desynced {
		return domain.ErrDesynchronized
	}
	if s.torn {
		return domain.ErrSessionNotFound
	}
	return nil
}
