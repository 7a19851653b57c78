package kv

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ReserveWithinLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	res, err := s.Reserve(ctx, "agent1:20260730", 100, 500, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(100), res.Total)

	res, err = s.Reserve(ctx, "agent1:20260730", 300, 500, time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(400), res.Total)
}

func TestMemoryStore_ReserveRejectsOverLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Reserve(ctx, "agent1:20260730", 400, 500, time.Hour)
	require.NoError(t, err)

	res, err := s.Reserve(ctx, "agent1:20260730", 200, 500, time.Hour)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(400), res.Total, "rejected reservation must not change the counter")

	current, err := s.Current(ctx, "agent1:20260730")
	require.NoError(t, err)
	assert.Equal(t, int64(400), current)
}

func TestMemoryStore_RollbackClampsAtZero(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Reserve(ctx, "agent1:20260730", 100, 500, time.Hour)
	require.NoError(t, err)

	require.NoError(t, s.Rollback(ctx, "agent1:20260730", 9999))

	current, err := s.Current(ctx, "agent1:20260730")
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)
}

func TestMemoryStore_RollbackUnknownKeyIsNoop(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Rollback(ctx, "never-reserved", 50))

	current, err := s.Current(ctx, "never-reserved")
	require.NoError(t, err)
	assert.Equal(t, int64(0), current)
}

func TestMemoryStore_ClaimOnceOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Claim(ctx, "payout-1", time.Hour)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.Claim(ctx, "payout-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, second, "a second claim of the same key must report already-claimed")
}

func TestMemoryStore_ClaimExpires(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.Claim(ctx, "payout-2", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, first)

	time.Sleep(30 * time.Millisecond)

	second, err := s.Claim(ctx, "payout-2", time.Hour)
	require.NoError(t, err)
	assert.True(t, second, "an expired claim must be reclaimable")
}

// TestMemoryStore_ConcurrentReservesNeverExceedLimit guards the core
// correctness property of Reserve: under concurrent callers hammering the
// same key, the sum of all Allowed reservations must never exceed the
// limit. A naive read-then-write without per-key serialization would let
// two goroutines both read the same pre-increment value and both succeed.
func TestMemoryStore_ConcurrentReservesNeverExceedLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	const limit = int64(1000)
	const attempts = 200
	const amount = int64(10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Reserve(ctx, "shared-key", amount, limit, time.Hour)
			require.NoError(t, err)
			if res.Allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	current, err := s.Current(ctx, "shared-key")
	require.NoError(t, err)
	assert.Equal(t, int64(allowedCount)*amount, current)
	assert.LessOrEqual(t, current, limit)
}
