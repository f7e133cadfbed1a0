package keystore

import (
	"context"
	"sync"

	"agentseal/internal/domain"
)

// MemoryDirectory is an in-process Directory for tests and tooling. One-time
// key consumption is exactly-once under concurrent callers: the key is
// removed from the published bundle in the same critical section that hands
// it out.
type MemoryDirectory struct {
	mu      sync.Mutex
	bundles map[domain.AgentID]domain.KeyBundle
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{bundles: make(map[domain.AgentID]domain.KeyBundle)}
}

// FetchBundle returns the published bundle for an agent.
func (d *MemoryDirectory) FetchBundle(_ context.Context, agent domain.AgentID) (domain.KeyBundle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bundles[agent]
	if !ok {
		return domain.KeyBundle{}, domain.ErrBundleNotFound
	}
	return b, nil
}

// PublishBundle replaces the agent's bundle.
func (d *MemoryDirectory) PublishBundle(_ context.Context, agent domain.AgentID, bundle domain.KeyBundle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bundles[agent] = bundle
	return nil
}

// ConsumeOneTimeKey atomically takes the first remaining one-time key.
func (d *MemoryDirectory) ConsumeOneTimeKey(_ context.Context, agent domain.AgentID) (domain.OneTimeKeyPublic, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.bundles[agent]
	if !ok {
		return domain.OneTimeKeyPublic{}, domain.ErrBundleNotFound
	}
	if len(b.OneTimeKeys) == 0 {
		return domain.OneTimeKeyPublic{}, domain.ErrKeyExhausted
	}
	k := b.OneTimeKeys[0]
	b.OneTimeKeys = append([]domain.OneTimeKeyPublic(nil), b.OneTimeKeys[1:]...)
	d.bundles[agent] = b
	return k, nil
}

// Compile-time assertion that MemoryDirectory implements domain.Directory.
var _ domain.Directory = (*MemoryDirectory)(nil)
