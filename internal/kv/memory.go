package kv

import (
	"context"
	"sync"
	"time"

	"github.com/mbd888/govfire/internal/syncutil"
)

type memEntry struct {
	value    int64
	expireAt time.Time // zero means no expiry
}

// MemoryStore is an in-process kv.Store for tests and single-process
// deployments that run without Redis. A Go map has no atomic
// compare-and-swap-with-expiry primitive of its own, so per-key
// serialization is provided by syncutil.ShardedMutex: the lock is held only
// for the read-check-write on a single key, never across keys, so
// concurrent reservations against different agents contend only when their
// keys hash to the same one of its 256 shards.
type MemoryStore struct {
	mu      syncutil.ShardedMutex
	dataMu  sync.RWMutex
	entries map[string]*memEntry
}

// NewMemoryStore creates an empty in-memory substrate.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memEntry),
	}
}

func (s *MemoryStore) get(key string) (*memEntry, bool) {
	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expireAt.IsZero() && time.Now().After(e.expireAt) {
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) set(key string, e *memEntry) {
	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.entries[key] = e
}

func (s *MemoryStore) Reserve(ctx context.Context, key string, amount, limit int64, expiry time.Duration) (ReserveResult, error) {
	unlock := s.mu.Lock(key)
	defer unlock()

	e, exists := s.get(key)
	var current int64
	if exists {
		current = e.value
	}

	total := current + amount
	if total > limit {
		return ReserveResult{Allowed: false, Total: current}, nil
	}

	next := &memEntry{value: total}
	if !exists && expiry > 0 {
		next.expireAt = time.Now().Add(expiry)
	} else if exists {
		next.expireAt = e.expireAt
	}
	s.set(key, next)

	return ReserveResult{Allowed: true, Total: total}, nil
}

func (s *MemoryStore) Rollback(ctx context.Context, key string, amount int64) error {
	unlock := s.mu.Lock(key)
	defer unlock()

	e, exists := s.get(key)
	if !exists {
		return nil
	}
	total := e.value - amount
	if total < 0 {
		total = 0
	}
	s.set(key, &memEntry{value: total, expireAt: e.expireAt})
	return nil
}

func (s *MemoryStore) Current(ctx context.Context, key string) (int64, error) {
	e, exists := s.get(key)
	if !exists {
		return 0, nil
	}
	return e.value, nil
}

// Claim performs the existence-check and the set under the same per-key
// shard lock, so it is atomic with respect to every other MemoryStore
// operation on key even though the map itself is not lock-free.
func (s *MemoryStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	unlock := s.mu.Lock(key)
	defer unlock()

	if _, exists := s.get(key); exists {
		return false, nil
	}

	e := &memEntry{value: 1}
	if ttl > 0 {
		e.expireAt = time.Now().Add(ttl)
	}
	s.set(key, e)
	return true, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
