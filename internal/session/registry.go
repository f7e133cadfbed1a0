package session

import (
	"sync"

	"agentseal/internal/domain"
)

// Registry indexes live sessions by peer agent. Sessions are looked up by
// id, never owned by bundle caches or vice versa, so there are no cyclic
// references between sessions and key material.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.AgentID]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.AgentID]*Session)}
}

// Get returns the session with the peer, if any.
func (r *Registry) Get(peer domain.AgentID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[peer]
	return s, ok
}

// Put installs a session, tearing down any previous one with the same peer.
func (r *Registry) Put(s *Session) {
	r.mu.Lock()
	prev := r.sessions[s.Peer()]
	r.sessions[s.Peer()] = s
	r.mu.Unlock()
	if prev != nil && prev != s {
		prev.Teardown()
	}
}

// Remove tears down and drops the session with the peer.
func (r *Registry) Remove(peer domain.AgentID) {
	r.mu.Lock()
	s := r.sessions[peer]
	delete(r.sessions, peer)
	r.mu.Unlock()
	if s != nil {
		s.Teardown()
	}
}

// RemoveByMediumKey tears down every session whose root derivation depended
// on the given medium key and reports how many were affected. Used by
// emergency revocation.
func (r *Registry) RemoveByMediumKey(id domain.MediumKeyID) int {
	r.mu.Lock()
	var doomed []*Session
	for peer, s := range r.sessions {
		if s.MediumKeyID() == id {
			doomed = append(doomed, s)
			delete(r.sessions, peer)
		}
	}
	r.mu.Unlock()
	for _, s := range doomed {
		s.Teardown()
	}
	return len(doomed)
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
