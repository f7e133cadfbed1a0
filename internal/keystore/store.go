package keystore

import (
	"fmt"
	"sync"
	"time"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
	"agentseal/internal/util/memzero"
)

// mediumPrivate is the secret half of a medium key plus its lifecycle.
type mediumPrivate struct {
	public     domain.MediumKey
	dhPriv     domain.X25519Private
	kemPriv    []byte
	state      domain.KeyState
	graceUntil time.Time
}

// oneTimePrivate is the secret half of a one-time key.
type oneTimePrivate struct {
	public  domain.OneTimeKeyPublic
	dhPriv  domain.X25519Private
	kemPriv []byte
}

// Store holds one agent's private key material. It is never mutated by
// sessions; only the rotation manager changes key lifecycles.
type Store struct {
	mu sync.Mutex

	agent domain.AgentID

	identityDHPriv domain.X25519Private
	identity       domain.IdentityKeys

	mediums      map[domain.MediumKeyID]*mediumPrivate
	activeMedium domain.MediumKeyID
	oneTime      map[domain.OneTimeKeyID]*oneTimePrivate
	oneTimeOrder []domain.OneTimeKeyID

	bundleVersion uint64
}

// NewStore builds a store around an agent's identity material.
func NewStore(agent domain.AgentID, dhPriv domain.X25519Private, identity domain.IdentityKeys) *Store {
	return &Store{
		agent:          agent,
		identityDHPriv: dhPriv,
		identity:       identity,
		mediums:        make(map[domain.MediumKeyID]*mediumPrivate),
		oneTime:        make(map[domain.OneTimeKeyID]*oneTimePrivate),
	}
}

// AgentID returns the owning agent.
func (s *Store) AgentID() domain.AgentID { return s.agent }

// Identity returns the public identity keys.
func (s *Store) Identity() domain.IdentityKeys { return s.identity }

// IdentityDHPriv returns the identity X25519 private key for handshakes.
func (s *Store) IdentityDHPriv() domain.X25519Private {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identityDHPriv
}

// InstallMedium makes a signed medium key the active one, demoting the
// previous active key to grace until the given deadline.
func (s *Store) InstallMedium(pub domain.MediumKey, dhPriv domain.X25519Private, kemPriv []byte, graceUntil time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.mediums[s.activeMedium]; ok && prev.state == domain.KeyActive {
		prev.state = domain.KeyGrace
		prev.graceUntil = graceUntil
	}
	s.mediums[pub.ID] = &mediumPrivate{
		public:  pub,
		dhPriv:  dhPriv,
		kemPriv: kemPriv,
		state:   domain.KeyActive,
	}
	s.activeMedium = pub.ID
	s.bundleVersion++
}

// ActiveMedium returns the active medium public key.
func (s *Store) ActiveMedium() (domain.MediumKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mediums[s.activeMedium]
	if !ok || m.state != domain.KeyActive {
		return domain.MediumKey{}, false
	}
	return m.public, true
}

// MediumPrivate returns the private halves of a medium key for handshake
// decapsulation. Active and grace keys are usable; expired or revoked keys
// are not.
func (s *Store) MediumPrivate(id domain.MediumKeyID) (domain.X25519Private, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mediums[id]
	if !ok {
		return domain.X25519Private{}, nil, fmt.Errorf("%w: medium key %s", domain.ErrKeyNotFound, id)
	}
	switch m.state {
	case domain.KeyActive, domain.KeyGrace:
		return m.dhPriv, m.kemPriv, nil
	default:
		return domain.X25519Private{}, nil, fmt.Errorf("%w: medium key %s is %s", domain.ErrKeyNotFound, id, m.state)
	}
}

// MediumState reports the lifecycle state of a medium key.
func (s *Store) MediumState(id domain.MediumKeyID) (domain.KeyState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mediums[id]
	if !ok {
		return 0, false
	}
	return m.state, true
}

// Revoke marks a medium key revoked from any state and wipes its secrets.
func (s *Store) Revoke(id domain.MediumKeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mediums[id]
	if !ok {
		return fmt.Errorf("%w: medium key %s", domain.ErrKeyNotFound, id)
	}
	m.state = domain.KeyRevoked
	memzero.Zero32((*[32]byte)(&m.dhPriv))
	memzero.Zero(m.kemPriv)
	if s.activeMedium == id {
		s.activeMedium = ""
	}
	s.bundleVersion++
	return nil
}

// ExpireGrace retires grace keys past their deadline, wiping their secrets,
// and reports how many were expired.
func (s *Store) ExpireGrace(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.mediums {
		if m.state == domain.KeyGrace && now.After(m.graceUntil) {
			m.state = domain.KeyExpired
			memzero.Zero32((*[32]byte)(&m.dhPriv))
			memzero.Zero(m.kemPriv)
			n++
		}
	}
	return n
}

// AddOneTime appends freshly generated one-time key pairs to the pool.
func (s *Store) AddOneTime(pairs []OneTimePair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pairs {
		s.oneTime[p.Public.ID] = &oneTimePrivate{
			public:  p.Public,
			dhPriv:  p.DHPriv,
			kemPriv: p.KEMPriv,
		}
		s.oneTimeOrder = append(s.oneTimeOrder, p.Public.ID)
	}
	s.bundleVersion++
}

// TakeOneTime removes and returns the private half of a one-time key.
// Consumption is exactly-once: a second take of the same id fails.
func (s *Store) TakeOneTime(id domain.OneTimeKeyID) (domain.X25519Private, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.oneTime[id]
	if !ok {
		return domain.X25519Private{}, nil, fmt.Errorf("%w: one-time key %s", domain.ErrKeyNotFound, id)
	}
	delete(s.oneTime, id)
	return k.dhPriv, k.kemPriv, nil
}

// OneTimeCount reports how many one-time keys remain unconsumed.
func (s *Store) OneTimeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.oneTime)
}

// Bundle assembles the current public bundle: identity keys, active medium
// key, and the public halves of all unconsumed one-time keys in insertion
// order.
func (s *Store) Bundle() (domain.KeyBundle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mediums[s.activeMedium]
	if !ok || m.state != domain.KeyActive {
		return domain.KeyBundle{}, fmt.Errorf("%w: no active medium key", domain.ErrKeyNotFound)
	}
	var otks []domain.OneTimeKeyPublic
	for _, id := range s.oneTimeOrder {
		if k, ok := s.oneTime[id]; ok {
			otks = append(otks, k.public)
		}
	}
	return domain.KeyBundle{
		AgentID:     s.agent,
		Identity:    s.identity,
		Medium:      m.public,
		OneTimeKeys: otks,
		Version:     s.bundleVersion,
	}, nil
}

// OneTimePair is a generated one-time key with both halves.
type OneTimePair struct {
	Public  domain.OneTimeKeyPublic
	DHPriv  domain.X25519Private
	KEMPriv []byte
}

// GenerateOneTimePair creates a fresh one-time key pair.
func GenerateOneTimePair(suite *primitive.Suite, id domain.OneTimeKeyID) (OneTimePair, error) {
	dhPriv, dhPub, err := suite.GenerateDH()
	if err != nil {
		return OneTimePair{}, err
	}
	kemPriv, kemPub, err := suite.GenerateKEM()
	if err != nil {
		return OneTimePair{}, err
	}
	return OneTimePair{
		Public:  domain.OneTimeKeyPublic{ID: id, DHPub: dhPub, KEMPub: kemPub},
		DHPriv:  dhPriv,
		KEMPriv: kemPriv,
	}, nil
}
