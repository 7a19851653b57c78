package policy

import (
	"context"
	"sync"
	"time"
)

// DefaultCacheTTL is how long a fetched policy is cached before re-fetching.
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	policy    *AgentPolicy
	notFound  bool
	fetchedAt time.Time
}

// CachedStore wraps a Store with a short-TTL read cache, so the governance
// engine's per-cycle get_policy call does not round-trip to the durable
// store on every decision. A negative result (ErrPolicyNotFound) is cached
// too, since "no policy configured" is itself a stable, valid outcome.
type CachedStore struct {
	store    Store
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

// NewCachedStore wraps store with the default cache TTL.
func NewCachedStore(store Store) *CachedStore {
	return &CachedStore{
		store:    store,
		cacheTTL: DefaultCacheTTL,
		cache:    make(map[string]*cacheEntry),
	}
}

// WithCacheTTL overrides the default cache TTL.
func (c *CachedStore) WithCacheTTL(ttl time.Duration) *CachedStore {
	c.cacheTTL = ttl
	return c
}

// Invalidate removes a cached entry for agentID. Call after Upsert.
func (c *CachedStore) Invalidate(agentID string) {
	c.mu.Lock()
	delete(c.cache, agentID)
	c.mu.Unlock()
}

func (c *CachedStore) Get(ctx context.Context, agentID string) (*AgentPolicy, error) {
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.cache[agentID]
	if ok && now.Sub(entry.fetchedAt) < c.cacheTTL {
		c.mu.RUnlock()
		if entry.notFound {
			return nil, ErrPolicyNotFound
		}
		return entry.policy, nil
	}
	c.mu.RUnlock()

	p, err := c.store.Get(ctx, agentID)
	if err != nil {
		if err == ErrPolicyNotFound {
			c.mu.Lock()
			c.cache[agentID] = &cacheEntry{notFound: true, fetchedAt: now}
			c.mu.Unlock()
		}
		return nil, err
	}

	c.mu.Lock()
	c.cache[agentID] = &cacheEntry{policy: p, fetchedAt: now}
	c.mu.Unlock()

	return p, nil
}

func (c *CachedStore) Upsert(ctx context.Context, p *AgentPolicy) error {
	if err := c.store.Upsert(ctx, p); err != nil {
		return err
	}
	c.Invalidate(p.AgentID)
	return nil
}

// SweepCache removes expired entries. Returns the number removed.
func (c *CachedStore) SweepCache() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	removed := 0
	for k, entry := range c.cache {
		if now.Sub(entry.fetchedAt) > c.cacheTTL {
			delete(c.cache, k)
			removed++
		}
	}
	return removed
}

var _ Store = (*CachedStore)(nil)
