package keystore

import (
	"context"
	"fmt"
	"sync"

	"agentseal/internal/domain"
	"agentseal/internal/primitive"
)

// LocalSigner is an in-process IdentitySigner holding identity signing keys
// for registered agents. Production deployments replace it with the real
// identity collaborator; the private halves still never cross this package's
// API surface.
type LocalSigner struct {
	mu   sync.RWMutex
	keys map[domain.AgentID]signingKeys
}

type signingKeys struct {
	classical domain.Ed25519Private
	pq        []byte
}

// NewLocalSigner returns an empty signer.
func NewLocalSigner() *LocalSigner {
	return &LocalSigner{keys: make(map[domain.AgentID]signingKeys)}
}

// Register installs an agent's identity signing keys.
func (s *LocalSigner) Register(agent domain.AgentID, classical domain.Ed25519Private, pq []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[agent] = signingKeys{classical: classical, pq: pq}
}

// SignWithIdentity produces the hybrid signature pair over msg.
func (s *LocalSigner) SignWithIdentity(_ context.Context, agent domain.AgentID, msg []byte) ([]byte, []byte, error) {
	s.mu.RLock()
	k, ok := s.keys[agent]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: no signing keys for %s", domain.ErrKeyNotFound, agent)
	}
	sigC := primitive.SignClassical(k.classical, msg)
	sigPQ, err := primitive.SignPQ(k.pq, msg)
	if err != nil {
		return nil, nil, err
	}
	return sigC, sigPQ, nil
}

// Compile-time assertion that LocalSigner implements domain.IdentitySigner.
var _ domain.IdentitySigner = (*LocalSigner)(nil)
