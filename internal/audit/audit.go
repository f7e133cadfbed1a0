// Package audit forwards security-relevant engine events to the external
// audit sink through a buffered dispatcher. Emission back-pressures rather
// than drops by default: a full buffer blocks the emitter instead of losing
// a signature failure or revocation.
package audit

import (
	"context"
	"time"

	"agentseal/internal/domain"
)

// EventType classifies an audit event.
type EventType string

const (
	EventSignatureFailed   EventType = "signature_failed"
	EventDecryptFailed     EventType = "decrypt_failed"
	EventDesynchronized    EventType = "desynchronized"
	EventReplayed          EventType = "replayed"
	EventAuthzDenied       EventType = "authorization_denied"
	EventAuthzUnavailable  EventType = "authorization_unavailable"
	EventHandshakeFallback EventType = "handshake_fallback"
	EventRotationCompleted EventType = "rotation_completed"
	EventKeysReplenished   EventType = "keys_replenished"
	EventKeyRevoked        EventType = "key_revoked"
)

// Event is one security-relevant occurrence.
type Event struct {
	Type   EventType
	Agent  domain.AgentID
	Peer   domain.AgentID
	KeyID  string
	Detail string
	At     time.Time
}

// Sink receives audit events. The external collaborator implements it.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// NoOpSink discards events. Used when auditing is disabled in tests.
type NoOpSink struct{}

// Record implements Sink.
func (NoOpSink) Record(context.Context, Event) error { return nil }
