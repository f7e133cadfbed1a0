package gate

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"agentseal/internal/audit"
	"agentseal/internal/domain"
	"agentseal/internal/envelope"
	"agentseal/internal/keystore"
	"agentseal/internal/metrics"
	"agentseal/internal/primitive"
	"agentseal/internal/protocol/agreement"
	"agentseal/internal/session"
	"agentseal/internal/util/memzero"
)

// Config tunes the gate.
type Config struct {
	// MaxSkip bounds the ratchet skip window of new sessions.
	MaxSkip uint32
	// AuthzFailOpen lets a message through (audited) when the authorizer is
	// unavailable; fail-closed denies instead.
	AuthzFailOpen bool
	// DefaultTTL is stamped into envelopes without an explicit TTL.
	DefaultTTL uint32
}

func (c Config) withDefaults() Config {
	if c.MaxSkip == 0 {
		c.MaxSkip = 1000
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 3600
	}
	return c
}

// Gate sequences the send and receive paths for one local agent.
type Gate struct {
	cfg       Config
	suite     *primitive.Suite
	store     *keystore.Store
	sessions  *session.Registry
	codec     *envelope.Codec
	directory domain.Directory
	cache     *keystore.BundleCache
	signer    domain.IdentitySigner
	authz     domain.Authorizer
	transport domain.Transport
	audit     *audit.Dispatcher
	metrics   *metrics.Metrics
	log       *zap.Logger

	// seenHandshakes remembers digests of handshake payloads that already
	// bootstrapped a session, so a replayed first envelope cannot re-derive
	// its root keys. Entries only need to outlive the freshness window.
	seenHandshakes *ttlcache.Cache[string, struct{}]
}

// seenHandshakeCapacity bounds the handshake dedup cache.
const seenHandshakeCapacity = 4096

// New wires a gate.
func New(
	cfg Config,
	suite *primitive.Suite,
	store *keystore.Store,
	sessions *session.Registry,
	codec *envelope.Codec,
	directory domain.Directory,
	cache *keystore.BundleCache,
	signer domain.IdentitySigner,
	authz domain.Authorizer,
	transport domain.Transport,
	auditor *audit.Dispatcher,
	m *metrics.Metrics,
	log *zap.Logger,
) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	window := 10 * time.Minute
	if codec != nil && codec.MaxAge+codec.ClockSkew > 0 {
		window = codec.MaxAge + codec.ClockSkew
	}
	seen := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](window),
		ttlcache.WithCapacity[string, struct{}](seenHandshakeCapacity),
	)
	return &Gate{
		cfg:       cfg.withDefaults(),
		suite:     suite,
		store:     store,
		sessions:  sessions,
		codec:     codec,
		directory: directory,
		cache:     cache,
		signer:    signer,
		authz:     authz,
		transport: transport,
		audit:     auditor,
		metrics:   m,
		log:       log,

		seenHandshakes: seen,
	}
}

// SendOption adjusts one outbound envelope.
type SendOption func(*domain.Envelope)

// WithPriority sets the envelope priority.
func WithPriority(p domain.Priority) SendOption {
	return func(e *domain.Envelope) { e.Priority = p }
}

// WithCorrelationID threads a correlation id through the envelope.
func WithCorrelationID(id string) SendOption {
	return func(e *domain.Envelope) { e.CorrelationID = id }
}

// WithTTL overrides the default envelope TTL in seconds.
func WithTTL(ttl uint32) SendOption {
	return func(e *domain.Envelope) { e.TTL = ttl }
}

// Send authorizes, encrypts, signs, and hands an envelope to the transport.
// The first message to a peer runs the key agreement and attaches the
// handshake payload.
func (g *Gate) Send(ctx context.Context, to domain.AgentID, plaintext []byte, opts ...SendOption) (domain.Envelope, error) {
	from := g.store.AgentID()
	if err := g.authorize(ctx, from, to); err != nil {
		return domain.Envelope{}, err
	}

	sess, ok := g.sessions.Get(to)
	if !ok {
		var err error
		sess, err = g.establish(ctx, to)
		if err != nil {
			return domain.Envelope{}, err
		}
	}

	h, nonce, ct, err := sess.Encrypt(associatedData(from, to), plaintext)
	if err != nil {
		return domain.Envelope{}, err
	}

	env := domain.Envelope{
		Version:     envelope.Version,
		MessageID:   uuid.NewString(),
		SenderID:    from,
		RecipientID: to,
		Ciphertext:  ct,
		Nonce:       nonce,
		RatchetHeader: &domain.RatchetHeader{
			DHPub: h.DHPub,
			PN:    h.PN,
			N:     h.N,
		},
		Priority:  domain.PriorityNormal,
		TTL:       g.cfg.DefaultTTL,
		Timestamp: time.Now().Unix(),
	}
	if hs := sess.PendingHandshake(); hs != nil {
		env.WrappedKey = hs
		env.KeyID = sess.MediumKeyID()
	}
	for _, opt := range opts {
		opt(&env)
	}

	if err := g.codec.Sign(ctx, &env, g.signer); err != nil {
		return domain.Envelope{}, err
	}

	if _, err := g.transport.Deliver(ctx, env); err != nil {
		return domain.Envelope{}, fmt.Errorf("deliver %s: %w", env.MessageID, err)
	}
	sess.ConfirmBootstrap()
	if g.metrics != nil {
		g.metrics.MessagesSent.Inc()
	}
	return env, nil
}

// establish runs the initiator side of the key agreement with a fresh
// bundle, consuming a one-time key when one is available.
func (g *Gate) establish(ctx context.Context, peer domain.AgentID) (*session.Session, error) {
	bundle, err := g.cache.Fetch(ctx, peer)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle for %s: %w", peer, err)
	}

	var oneTime *domain.OneTimeKeyPublic
	otk, err := g.directory.ConsumeOneTimeKey(ctx, peer)
	switch {
	case err == nil:
		oneTime = &otk
	case errors.Is(err, domain.ErrKeyExhausted):
		// Reduced handshake: one axis of forward secrecy is gone, so the
		// degradation must be visible downstream.
		g.audit.Emit(audit.Event{
			Type:  audit.EventHandshakeFallback,
			Agent: g.store.AgentID(),
			Peer:  peer,
		})
		if g.metrics != nil {
			g.metrics.HandshakeFallbacks.Inc()
		}
		g.log.Warn("one-time keys exhausted, reduced handshake",
			zap.String("peer", peer.String()))
	default:
		return nil, fmt.Errorf("consume one-time key for %s: %w", peer, err)
	}

	res, err := agreement.Initiate(g.suite, g.store.AgentID(), g.store.IdentityDHPriv(), g.store.Identity().DHPub, bundle, oneTime)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(res.RootKey)
	defer memzero.Zero(res.ChainKey)

	sess, err := session.NewInitiator(g.suite, peer, session.Seed{
		SessionID:   res.SessionID,
		RootKey:     res.RootKey,
		ChainKey:    res.ChainKey,
		MediumKeyID: bundle.Medium.ID,
		MaxSkip:     g.cfg.MaxSkip,
	}, agreement.EncodeHandshake(res.Handshake))
	if err != nil {
		return nil, err
	}
	g.sessions.Put(sess)
	if g.metrics != nil {
		g.metrics.HandshakesTotal.Inc()
	}
	return sess, nil
}

// Receive verifies, authorizes, and decrypts an inbound envelope. The first
// envelope from a new peer bootstraps the responder side of the session
// from the attached handshake.
func (g *Gate) Receive(ctx context.Context, env domain.Envelope) (domain.DecryptedMessage, error) {
	if env.RecipientID != g.store.AgentID() {
		return domain.DecryptedMessage{}, fmt.Errorf("envelope for %s delivered to %s", env.RecipientID, g.store.AgentID())
	}
	if err := g.codec.CheckFreshness(env); err != nil {
		return domain.DecryptedMessage{}, err
	}

	senderBundle, err := g.cache.Fetch(ctx, env.SenderID)
	if err != nil {
		return domain.DecryptedMessage{}, fmt.Errorf("fetch sender bundle: %w", err)
	}
	if err := g.codec.Verify(env, senderBundle.Identity); err != nil {
		g.audit.Emit(audit.Event{
			Type:   audit.EventSignatureFailed,
			Agent:  g.store.AgentID(),
			Peer:   env.SenderID,
			Detail: env.MessageID,
		})
		if g.metrics != nil {
			g.metrics.SignatureFailures.Inc()
		}
		return domain.DecryptedMessage{}, err
	}

	if err := g.authorize(ctx, env.SenderID, env.RecipientID); err != nil {
		return domain.DecryptedMessage{}, err
	}

	if env.RatchetHeader == nil {
		return domain.DecryptedMessage{}, fmt.Errorf("%w: missing ratchet header", domain.ErrDecryptionFailed)
	}

	sess, live := g.sessions.Get(env.SenderID)
	var fresh *session.Session
	if !live {
		fresh, err = g.respond(env)
		if err != nil {
			return domain.DecryptedMessage{}, err
		}
		sess = fresh
	}

	ad := associatedData(env.SenderID, env.RecipientID)
	pt, err := sess.Decrypt(ad, *env.RatchetHeader, env.Nonce, env.Ciphertext)
	if err != nil && live && errors.Is(err, domain.ErrDecryptionFailed) && len(env.WrappedKey) > 0 {
		// An authenticated peer re-handshaking (after losing or desyncing
		// its side) supersedes the stale session, but only once its first
		// message actually decrypts under the new keys.
		if f, rerr := g.respond(env); rerr == nil {
			if p, derr := f.Decrypt(ad, *env.RatchetHeader, env.Nonce, env.Ciphertext); derr == nil {
				pt, err = p, nil
				fresh, sess = f, f
			} else {
				f.Teardown()
			}
		} else if errors.Is(rerr, domain.ErrReplayed) {
			err = rerr
		}
	}
	if err != nil {
		if fresh != nil {
			fresh.Teardown()
		}
		g.observeDecryptFailure(env, err)
		if errors.Is(err, domain.ErrDesynchronized) {
			// The session is terminal; drop it so the next send to this
			// peer runs a fresh key agreement.
			g.sessions.Remove(env.SenderID)
		}
		return domain.DecryptedMessage{}, err
	}
	if fresh != nil {
		g.seenHandshakes.Set(handshakeDigest(env.WrappedKey), struct{}{}, ttlcache.DefaultTTL)
		g.sessions.Put(fresh)
	}
	sess.ConfirmBootstrap()
	if g.metrics != nil {
		g.metrics.MessagesReceived.Inc()
	}
	return domain.DecryptedMessage{
		MessageID:     env.MessageID,
		SenderID:      env.SenderID,
		RecipientID:   env.RecipientID,
		Plaintext:     pt,
		CorrelationID: env.CorrelationID,
		Timestamp:     env.Timestamp,
	}, nil
}

// respond bootstraps the responder side of a session from the handshake
// payload attached to the first envelope. The caller commits the session
// into the registry only after the envelope decrypts under it.
func (g *Gate) respond(env domain.Envelope) (*session.Session, error) {
	if len(env.WrappedKey) == 0 {
		return nil, fmt.Errorf("%w: no session and no handshake", domain.ErrSessionNotFound)
	}
	if g.seenHandshakes.Has(handshakeDigest(env.WrappedKey)) {
		// A one-time key enforces exactly-once on full handshakes; reduced
		// ones have no such backstop, so consumed payloads are refused here.
		return nil, fmt.Errorf("%w: handshake already consumed", domain.ErrReplayed)
	}
	hs, err := agreement.DecodeHandshake(env.WrappedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryptionFailed, err)
	}
	if hs.InitiatorID != env.SenderID {
		return nil, fmt.Errorf("%w: handshake initiator mismatch", domain.ErrDecryptionFailed)
	}

	mediumDHPriv, mediumKEMPriv, err := g.store.MediumPrivate(hs.MediumKeyID)
	if err != nil {
		return nil, err
	}

	var oneTimePriv *domain.X25519Private
	if hs.OneTimeKeyID != "" {
		priv, kemPriv, err := g.store.TakeOneTime(hs.OneTimeKeyID)
		if err != nil {
			return nil, err
		}
		memzero.Zero(kemPriv)
		oneTimePriv = &priv
	}

	res, err := agreement.Respond(g.suite, g.store.AgentID(), g.store.IdentityDHPriv(), mediumDHPriv, mediumKEMPriv, oneTimePriv, hs)
	if err != nil {
		return nil, err
	}
	defer memzero.Zero(res.RootKey)
	defer memzero.Zero(res.ChainKey)
	if oneTimePriv != nil {
		defer memzero.Zero32((*[32]byte)(oneTimePriv))
	}

	var initiatorRatchetPub domain.X25519Public
	copy(initiatorRatchetPub[:], env.RatchetHeader.DHPub)

	sess, err := session.NewResponder(g.suite, env.SenderID, session.Seed{
		SessionID:   res.SessionID,
		RootKey:     res.RootKey,
		ChainKey:    res.ChainKey,
		MediumKeyID: hs.MediumKeyID,
		MaxSkip:     g.cfg.MaxSkip,
	}, initiatorRatchetPub)
	if err != nil {
		return nil, err
	}
	if g.metrics != nil {
		g.metrics.HandshakesTotal.Inc()
	}
	if res.Reduced {
		g.audit.Emit(audit.Event{
			Type:  audit.EventHandshakeFallback,
			Agent: g.store.AgentID(),
			Peer:  env.SenderID,
		})
		if g.metrics != nil {
			g.metrics.HandshakeFallbacks.Inc()
		}
	}
	return sess, nil
}

// authorize consults the policy collaborator. An unavailable authorizer is
// resolved by the fail-open/fail-closed configuration; a deny is final and
// no cryptography runs for the message.
func (g *Gate) authorize(ctx context.Context, sender, recipient domain.AgentID) error {
	dec, err := g.authz.Check(ctx, sender, recipient, nil)
	if err != nil {
		g.audit.Emit(audit.Event{
			Type:   audit.EventAuthzUnavailable,
			Agent:  g.store.AgentID(),
			Peer:   sender,
			Detail: err.Error(),
		})
		if g.cfg.AuthzFailOpen {
			g.log.Warn("authorizer unavailable, failing open", zap.Error(err))
			return nil
		}
		return fmt.Errorf("%w: authorizer unavailable: %w", domain.ErrAuthorizationDenied, err)
	}
	if !dec.Allowed {
		g.audit.Emit(audit.Event{
			Type:   audit.EventAuthzDenied,
			Agent:  g.store.AgentID(),
			Peer:   sender,
			Detail: dec.Reason,
		})
		if g.metrics != nil {
			g.metrics.AuthzDenied.Inc()
		}
		return fmt.Errorf("%w: %s", domain.ErrAuthorizationDenied, dec.Reason)
	}
	return nil
}

func (g *Gate) observeDecryptFailure(env domain.Envelope, err error) {
	switch {
	case errors.Is(err, domain.ErrDesynchronized):
		g.audit.Emit(audit.Event{
			Type:   audit.EventDesynchronized,
			Agent:  g.store.AgentID(),
			Peer:   env.SenderID,
			Detail: env.MessageID,
		})
		if g.metrics != nil {
			g.metrics.Desyncs.Inc()
		}
	case errors.Is(err, domain.ErrReplayed):
		g.audit.Emit(audit.Event{
			Type:   audit.EventReplayed,
			Agent:  g.store.AgentID(),
			Peer:   env.SenderID,
			Detail: env.MessageID,
		})
		if g.metrics != nil {
			g.metrics.Replays.Inc()
		}
	default:
		g.audit.Emit(audit.Event{
			Type:   audit.EventDecryptFailed,
			Agent:  g.store.AgentID(),
			Peer:   env.SenderID,
			Detail: env.MessageID,
		})
		if g.metrics != nil {
			g.metrics.DecryptFailures.Inc()
		}
	}
}

// handshakeDigest keys the dedup cache by the handshake payload bytes.
func handshakeDigest(wrapped []byte) string {
	sum := sha256.Sum256(wrapped)
	return string(sum[:])
}

// associatedData binds the sender/recipient pair into the AEAD so a relayed
// ciphertext cannot be replayed between sessions.
func associatedData(sender, recipient domain.AgentID) []byte {
	out := make([]byte, 0, len(sender)+len(recipient)+1)
	out = append(out, sender...)
	out = append(out, '>')
	out = append(out, recipient...)
	return out
}
