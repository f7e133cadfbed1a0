package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"agentseal/internal/audit"
	"agentseal/internal/domain"
	"agentseal/internal/envelope"
	"agentseal/internal/gate"
	"agentseal/internal/keystore"
	"agentseal/internal/metrics"
	"agentseal/internal/primitive"
	"agentseal/internal/rotation"
	"agentseal/internal/session"
)

// Deps are the collaborators the embedding application supplies. Directory
// and Transport must be set; the rest default to in-process or no-op
// implementations.
type Deps struct {
	Directory domain.Directory
	Transport domain.Transport
	Authz     domain.Authorizer
	Signer    domain.IdentitySigner // defaults to a LocalSigner
	AuditSink audit.Sink            // defaults to audit.NoOpSink
	Registry  prometheus.Registerer // nil disables metrics
	Logger    *zap.Logger           // nil disables logging
}

// Wire is the assembled engine for one agent.
type Wire struct {
	Suite    *primitive.Suite
	Store    *keystore.Store
	Sessions *session.Registry
	Codec    *envelope.Codec
	Cache    *keystore.BundleCache
	Signer   domain.IdentitySigner
	Audit    *audit.Dispatcher
	Metrics  *metrics.Metrics
	Rotation *rotation.Manager
	Gate     *gate.Gate
}

// allowAll is the authorizer used when none is supplied.
type allowAll struct{}

func (allowAll) Check(context.Context, domain.AgentID, domain.AgentID, map[string]string) (domain.Decision, error) {
	return domain.Decision{Allowed: true}, nil
}

// NewWire generates fresh identity material for agent and constructs the
// dependency graph from cfg. The initial medium key and one-time pool are
// not yet published; call Bootstrap (or Rotation.Rotate and
// Rotation.Replenish) to go live.
func NewWire(cfg Config, agent domain.AgentID, deps Deps) (*Wire, error) {
	if deps.Directory == nil {
		return nil, fmt.Errorf("wire: Directory is required")
	}
	if deps.Transport == nil {
		return nil, fmt.Errorf("wire: Transport is required")
	}
	if deps.Authz == nil {
		deps.Authz = allowAll{}
	}
	if deps.AuditSink == nil {
		deps.AuditSink = audit.NoOpSink{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	suite := primitive.NewSuite()

	dhPriv, dhPub, err := suite.GenerateDH()
	if err != nil {
		return nil, fmt.Errorf("wire: identity dh: %w", err)
	}
	sigPriv, sigPub, err := suite.GenerateClassicalSigning()
	if err != nil {
		return nil, fmt.Errorf("wire: identity signing: %w", err)
	}
	pqPriv, pqPub, err := suite.GeneratePQSigning()
	if err != nil {
		return nil, fmt.Errorf("wire: identity pq signing: %w", err)
	}

	signer := deps.Signer
	if signer == nil {
		local := keystore.NewLocalSigner()
		local.Register(agent, sigPriv, pqPriv)
		signer = local
	}

	store := keystore.NewStore(agent, dhPriv, domain.IdentityKeys{
		DHPub:    dhPub,
		SigPub:   sigPub,
		PQSigPub: pqPub,
	})

	var m *metrics.Metrics
	if deps.Registry != nil {
		m = metrics.New(deps.Registry)
	}

	auditor := audit.NewDispatcher(audit.Config{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, deps.AuditSink)

	sessions := session.NewRegistry()
	codec := envelope.NewCodec(cfg.Envelope.MaxAge.Std(), cfg.Envelope.ClockSkew.Std())
	cache := keystore.NewBundleCache(deps.Directory, cfg.Directory.BundleCacheTTL.Std(), log)

	rot := rotation.NewManager(rotation.Config{
		MediumKeyTTL:    cfg.Rotation.MediumKeyTTL.Std(),
		GracePeriod:     cfg.Rotation.GracePeriod.Std(),
		OneTimeLowWater: cfg.Rotation.OneTimeLowWater,
		OneTimeBatch:    cfg.Rotation.OneTimeBatch,
		RotateInterval:  cfg.Rotation.RotateInterval.Std(),
		SweepInterval:   cfg.Rotation.SweepInterval.Std(),
		PublishRetries:  cfg.Rotation.PublishRetries,
	}, suite, store, deps.Directory, signer, cache, sessions, auditor, m, log)

	g := gate.New(gate.Config{
		MaxSkip:       cfg.Session.MaxSkip,
		AuthzFailOpen: cfg.Authz.FailOpen,
		DefaultTTL:    cfg.Envelope.DefaultTTL,
	}, suite, store, sessions, codec, deps.Directory, cache, signer, deps.Authz, deps.Transport, auditor, m, log)

	return &Wire{
		Suite:    suite,
		Store:    store,
		Sessions: sessions,
		Codec:    codec,
		Cache:    cache,
		Signer:   signer,
		Audit:    auditor,
		Metrics:  m,
		Rotation: rot,
		Gate:     g,
	}, nil
}

// Bootstrap publishes the agent's first medium key and one-time pool.
func (w *Wire) Bootstrap(ctx context.Context) error {
	if _, err := w.Rotation.Rotate(ctx); err != nil {
		return fmt.Errorf("bootstrap rotate: %w", err)
	}
	if _, err := w.Rotation.Replenish(ctx); err != nil {
		return fmt.Errorf("bootstrap replenish: %w", err)
	}
	return nil
}

// Close releases background resources. It does not unpublish keys.
func (w *Wire) Close() {
	w.Cache.Close()
	w.Audit.Close()
}
