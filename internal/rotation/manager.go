package rotation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"agentseal/internal/audit"
	"agentseal/internal/domain"
	"agentseal/internal/keystore"
	"agentseal/internal/metrics"
	"agentseal/internal/primitive"
	"agentseal/internal/session"
)

// Config tunes the rotation schedule.
type Config struct {
	// MediumKeyTTL is the validity window stamped into new medium keys.
	MediumKeyTTL time.Duration
	// GracePeriod keeps a rotated-out key usable for decapsulation and
	// verification of in-flight material.
	GracePeriod time.Duration
	// OneTimeLowWater triggers replenishment when the pool drops below it.
	OneTimeLowWater int
	// OneTimeBatch is the number of keys generated per replenishment.
	OneTimeBatch int
	// RotateInterval drives scheduled rotation in Run.
	RotateInterval time.Duration
	// SweepInterval drives grace-key expiry in Run.
	SweepInterval time.Duration
	// PublishRetries bounds the backoff retry of a bundle publish.
	PublishRetries uint64
}

func (c Config) withDefaults() Config {
	if c.MediumKeyTTL <= 0 {
		c.MediumKeyTTL = 7 * 24 * time.Hour
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 24 * time.Hour
	}
	if c.OneTimeLowWater <= 0 {
		c.OneTimeLowWater = 10
	}
	if c.OneTimeBatch <= 0 {
		c.OneTimeBatch = 50
	}
	if c.RotateInterval <= 0 {
		c.RotateInterval = 24 * time.Hour
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.PublishRetries == 0 {
		c.PublishRetries = 5
	}
	return c
}

// pending is a generated-but-unpublished rotation. It survives publish
// failures so a retry reuses the same keys and rotation id instead of
// generating again.
type pending struct {
	rotationID string
	medium     domain.MediumKey
	dhPriv     domain.X25519Private
	kemPriv    []byte
}

// Manager owns the key lifecycle of one agent. It never touches ratchet
// internals except to trigger teardown through the session registry on
// emergency revocation.
type Manager struct {
	cfg       Config
	suite     *primitive.Suite
	store     *keystore.Store
	directory domain.Directory
	signer    domain.IdentitySigner
	cache     *keystore.BundleCache
	sessions  *session.Registry
	audit     *audit.Dispatcher
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu      sync.Mutex
	pending *pending
	// rotating guards the commit slot without blocking encrypt/decrypt
	// paths, which never take this lock.
	rotating bool
}

// NewManager wires a rotation manager.
func NewManager(
	cfg Config,
	suite *primitive.Suite,
	store *keystore.Store,
	directory domain.Directory,
	signer domain.IdentitySigner,
	cache *keystore.BundleCache,
	sessions *session.Registry,
	auditor *audit.Dispatcher,
	m *metrics.Metrics,
	log *zap.Logger,
) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		cfg:       cfg.withDefaults(),
		suite:     suite,
		store:     store,
		directory: directory,
		signer:    signer,
		cache:     cache,
		sessions:  sessions,
		audit:     auditor,
		metrics:   m,
		log:       log,
	}
}

// Rotate generates a new signed medium key and publishes the updated
// bundle. The old key moves to grace only after the publish succeeds, so a
// crash or timeout before that leaves the previous key fully active.
// Returns the rotation id; ErrRotationInProgress if another rotation holds
// the slot.
func (r *Manager) Rotate(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.rotating {
		r.mu.Unlock()
		return "", domain.ErrRotationInProgress
	}
	r.rotating = true
	p := r.pending
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.rotating = false
		r.mu.Unlock()
	}()

	if p == nil {
		fresh, err := r.generate(ctx)
		if err != nil {
			return "", err
		}
		r.mu.Lock()
		r.pending = fresh
		r.mu.Unlock()
		p = fresh
	}

	if err := r.publish(ctx, p); err != nil {
		return p.rotationID, fmt.Errorf("%w: %w", domain.ErrRotationFailed, err)
	}

	// Commit: only now does the previous key leave active service.
	r.store.InstallMedium(p.medium, p.dhPriv, p.kemPriv, time.Now().Add(r.cfg.GracePeriod))
	r.cache.Invalidate(r.store.AgentID())
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()

	// Republish so the directory carries the post-commit bundle version.
	if bundle, err := r.store.Bundle(); err == nil {
		if err := r.directory.PublishBundle(ctx, r.store.AgentID(), bundle); err != nil {
			r.log.Warn("post-commit bundle publish failed", zap.Error(err))
		}
	}

	r.audit.Emit(audit.Event{
		Type:   audit.EventRotationCompleted,
		Agent:  r.store.AgentID(),
		KeyID:  p.medium.ID.String(),
		Detail: p.rotationID,
	})
	if r.metrics != nil {
		r.metrics.Rotations.Inc()
	}
	r.log.Info("medium key rotated",
		zap.String("rotation_id", p.rotationID),
		zap.String("key_id", p.medium.ID.String()))
	return p.rotationID, nil
}

// generate creates and hybrid-signs a fresh medium key.
func (r *Manager) generate(ctx context.Context) (*pending, error) {
	dhPriv, dhPub, err := r.suite.GenerateDH()
	if err != nil {
		return nil, err
	}
	kemPriv, kemPub, err := r.suite.GenerateKEM()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	medium := domain.MediumKey{
		ID:        domain.MediumKeyID(uuid.NewString()),
		DHPub:     dhPub,
		KEMPub:    kemPub,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(r.cfg.MediumKeyTTL).Unix(),
	}
	sigC, sigPQ, err := r.signer.SignWithIdentity(ctx, r.store.AgentID(), medium.SigningBytes())
	if err != nil {
		return nil, fmt.Errorf("sign medium key: %w", err)
	}
	medium.SigClassical = sigC
	medium.SigPQ = sigPQ
	return &pending{
		rotationID: uuid.NewString(),
		medium:     medium,
		dhPriv:     dhPriv,
		kemPriv:    kemPriv,
	}, nil
}

// publish pushes the candidate bundle with exponential backoff.
func (r *Manager) publish(ctx context.Context, p *pending) error {
	bundle, err := r.store.Bundle()
	if err == nil {
		bundle.Medium = p.medium
		bundle.Version++
	} else {
		// First key for this agent: no active medium yet.
		bundle = domain.KeyBundle{
			AgentID:  r.store.AgentID(),
			Identity: r.store.Identity(),
			Medium:   p.medium,
			Version:  1,
		}
	}
	op := func() error {
		return r.directory.PublishBundle(ctx, r.store.AgentID(), bundle)
	}
	bo := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), ctx), r.cfg.PublishRetries)
	return backoff.Retry(op, bo)
}

// Replenish tops up the one-time key pool when it is below the low-water
// mark, publishing public halves only. Returns the number generated.
func (r *Manager) Replenish(ctx context.Context) (int, error) {
	if r.store.OneTimeCount() >= r.cfg.OneTimeLowWater {
		return 0, nil
	}
	pairs := make([]keystore.OneTimePair, 0, r.cfg.OneTimeBatch)
	for i := 0; i < r.cfg.OneTimeBatch; i++ {
		p, err := keystore.GenerateOneTimePair(r.suite, domain.OneTimeKeyID(uuid.NewString()))
		if err != nil {
			return 0, err
		}
		pairs = append(pairs, p)
	}
	r.store.AddOneTime(pairs)

	bundle, err := r.store.Bundle()
	if err != nil {
		return 0, err
	}
	if err := r.directory.PublishBundle(ctx, r.store.AgentID(), bundle); err != nil {
		return 0, fmt.Errorf("publish replenished bundle: %w", err)
	}
	r.cache.Invalidate(r.store.AgentID())

	r.audit.Emit(audit.Event{
		Type:   audit.EventKeysReplenished,
		Agent:  r.store.AgentID(),
		Detail: fmt.Sprintf("%d keys", len(pairs)),
	})
	if r.metrics != nil {
		r.metrics.Replenishments.Inc()
	}
	return len(pairs), nil
}

// Revoke skips the grace period entirely: the key becomes unusable, caches
// drop it, and every session rooted in it is torn down to force a fresh
// handshake.
func (r *Manager) Revoke(ctx context.Context, id domain.MediumKeyID) error {
	if err := r.store.Revoke(id); err != nil {
		return err
	}
	r.cache.Invalidate(r.store.AgentID())
	torn := r.sessions.RemoveByMediumKey(id)

	// Best effort: push the revoked state out. The local revocation holds
	// regardless.
	if bundle, err := r.store.Bundle(); err == nil {
		if err := r.directory.PublishBundle(ctx, r.store.AgentID(), bundle); err != nil {
			r.log.Warn("bundle publish after revocation failed", zap.Error(err))
		}
	}

	r.audit.Emit(audit.Event{
		Type:   audit.EventKeyRevoked,
		Agent:  r.store.AgentID(),
		KeyID:  id.String(),
		Detail: fmt.Sprintf("%d sessions torn down", torn),
	})
	if r.metrics != nil {
		r.metrics.Revocations.Inc()
	}
	r.log.Warn("medium key revoked",
		zap.String("key_id", id.String()),
		zap.Int("sessions_torn", torn))
	return nil
}

// Tick expires grace keys past their deadline.
func (r *Manager) Tick(now time.Time) {
	if n := r.store.ExpireGrace(now); n > 0 {
		r.log.Info("grace keys expired", zap.Int("count", n))
	}
}

// Run drives scheduled rotation, replenishment and grace sweeps until the
// context is cancelled. Failures are logged and retried next interval; the
// message paths are never blocked.
func (r *Manager) Run(ctx context.Context) {
	rotate := time.NewTicker(r.cfg.RotateInterval)
	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer rotate.Stop()
	defer sweep.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rotate.C:
			if _, err := r.Rotate(ctx); err != nil {
				r.log.Warn("scheduled rotation failed", zap.Error(err))
			}
		case <-sweep.C:
			r.Tick(time.Now())
			if _, err := r.Replenish(ctx); err != nil {
				r.log.Warn("replenishment failed", zap.Error(err))
			}
		}
	}
}
