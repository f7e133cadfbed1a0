package domain

import "context"

// Directory is the external identity/key storage collaborator. All calls may
// block on I/O and honour the context deadline.
type Directory interface {
	FetchBundle(ctx context.Context, agent AgentID) (KeyBundle, error)
	PublishBundle(ctx context.Context, agent AgentID, bundle KeyBundle) error

	// ConsumeOneTimeKey atomically removes and returns one key from the
	// agent's pool. Returns ErrKeyExhausted when none remain. Two concurrent
	// callers never receive the same key.
	ConsumeOneTimeKey(ctx context.Context, agent AgentID) (OneTimeKeyPublic, error)
}

// IdentitySigner signs with an agent's long-term identity keys. The private
// halves never leave the collaborator.
type IdentitySigner interface {
	SignWithIdentity(ctx context.Context, agent AgentID, msg []byte) (sigClassical, sigPQ []byte, err error)
}

// Decision is the authorization collaborator's verdict.
type Decision struct {
	Allowed bool
	Reason  string
}

// Authorizer evaluates whether sender may message recipient. Expected to be
// sub-millisecond; an error return means the collaborator was unavailable,
// which the gate resolves per its fail-open/fail-closed configuration.
type Authorizer interface {
	Check(ctx context.Context, sender, recipient AgentID, attrs map[string]string) (Decision, error)
}

// Transport accepts a fully formed signed envelope for delivery and returns
// a delivery handle. Buffering and retry for offline recipients are its
// responsibility.
type Transport interface {
	Deliver(ctx context.Context, env Envelope) (handle string, err error)
}
