package keystore

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"agentseal/internal/domain"
)

// BundleCache is a TTL-bounded read-through cache in front of the external
// directory. Rotation fires Invalidate so stale bundles never outlive a key
// change; a directory failure falls back to a stale entry on the read path
// only.
type BundleCache struct {
	directory domain.Directory
	cache     *ttlcache.Cache[domain.AgentID, domain.KeyBundle]
	log       *zap.Logger

	// stale holds the last bundle successfully fetched per agent, served
	// only when the directory errors. Invalidate clears it so a revoked
	// bundle is never resurrected.
	mu    sync.Mutex
	stale map[domain.AgentID]domain.KeyBundle
}

// NewBundleCache builds a cache with the given entry TTL.
func NewBundleCache(directory domain.Directory, ttl time.Duration, log *zap.Logger) *BundleCache {
	if log == nil {
		log = zap.NewNop()
	}
	c := ttlcache.New[domain.AgentID, domain.KeyBundle](
		ttlcache.WithTTL[domain.AgentID, domain.KeyBundle](ttl),
		ttlcache.WithDisableTouchOnHit[domain.AgentID, domain.KeyBundle](),
	)
	go c.Start()
	return &BundleCache{
		directory: directory,
		cache:     c,
		log:       log,
		stale:     make(map[domain.AgentID]domain.KeyBundle),
	}
}

// Fetch returns the peer's bundle, from cache when fresh. When the directory
// is unreachable the last known bundle is served instead.
func (b *BundleCache) Fetch(ctx context.Context, agent domain.AgentID) (domain.KeyBundle, error) {
	if item := b.cache.Get(agent); item != nil {
		return item.Value(), nil
	}
	bundle, err := b.directory.FetchBundle(ctx, agent)
	if err != nil {
		b.mu.Lock()
		old, ok := b.stale[agent]
		b.mu.Unlock()
		if ok {
			b.log.Warn("directory unavailable, serving stale bundle",
				zap.String("agent", agent.String()), zap.Error(err))
			return old, nil
		}
		return domain.KeyBundle{}, err
	}
	b.cache.Set(agent, bundle, ttlcache.DefaultTTL)
	b.mu.Lock()
	b.stale[agent] = bundle
	b.mu.Unlock()
	return bundle, nil
}

// Invalidate drops the cached bundle for an agent, stale copy included.
// Fired by rotation and revocation.
func (b *BundleCache) Invalidate(agent domain.AgentID) {
	b.cache.Delete(agent)
	b.mu.Lock()
	delete(b.stale, agent)
	b.mu.Unlock()
	b.log.Debug("bundle cache invalidated", zap.String("agent", agent.String()))
}

// Close stops the expiration loop.
func (b *BundleCache) Close() {
	b.cache.Stop()
}
