package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentPolicy_ValidatePerTxnExceedsDaily(t *testing.T) {
	p := &AgentPolicy{AgentID: "agent-1", DailyCap: 1000, PerTxnCap: 2000}
	err := p.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestAgentPolicy_ValidateOverlappingDomains(t *testing.T) {
	p := &AgentPolicy{
		AgentID:        "agent-1",
		DailyCap:       1000,
		AllowedDomains: []string{"Vendor.com"},
		BlockedDomains: []string{"vendor.com"},
	}
	err := p.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestAgentPolicy_ValidateOK(t *testing.T) {
	p := &AgentPolicy{
		AgentID:        "agent-1",
		DailyCap:       1000,
		PerTxnCap:      500,
		AllowedDomains: []string{"trusted.com"},
		BlockedDomains: []string{"scam.com"},
	}
	assert.NoError(t, p.Validate())
}

func TestAgentPolicy_CheckDomainSuffixMatch(t *testing.T) {
	p := &AgentPolicy{
		AgentID:        "agent-1",
		AllowedDomains: []string{"vendor.com"},
		BlockedDomains: []string{"scam.net"},
	}

	assert.Equal(t, DomainAllowed, p.CheckDomain("https://pay.vendor.com/invoice"))
	assert.Equal(t, DomainBlocked, p.CheckDomain("https://checkout.scam.net"))
	assert.Equal(t, DomainNeutral, p.CheckDomain("https://unrelated.example"))
	assert.Equal(t, DomainNeutral, p.CheckDomain(""))
}

func TestAgentPolicy_CheckDomainBlockedWinsOverAllowed(t *testing.T) {
	// Exercises the precedence rule directly: blocked-domain membership is
	// checked before allowed, so a domain matching both yields Blocked.
	p := &AgentPolicy{
		AgentID:        "agent-1",
		AllowedDomains: []string{"vendor.com"},
		BlockedDomains: []string{"vendor.com"},
	}
	assert.Equal(t, DomainBlocked, p.CheckDomain("https://vendor.com"))
}

func TestMemoryStore_GetMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrPolicyNotFound)
}

func TestMemoryStore_UpsertThenGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &AgentPolicy{AgentID: "agent-1", DailyCap: 5000}))

	p, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), p.DailyCap)
	assert.False(t, p.CreatedAt.IsZero())
}

func TestMemoryStore_UpsertPreservesCreatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &AgentPolicy{AgentID: "agent-1", DailyCap: 1000}))
	first, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, &AgentPolicy{AgentID: "agent-1", DailyCap: 2000}))
	second, err := s.Get(ctx, "agent-1")
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, int64(2000), second.DailyCap)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestMemoryStore_UpsertRejectsInvalidPolicy(t *testing.T) {
	s := NewMemoryStore()
	err := s.Upsert(context.Background(), &AgentPolicy{AgentID: "agent-1", DailyCap: -1})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestCachedStore_ServesFromCacheWithinTTL(t *testing.T) {
	inner := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, inner.Upsert(ctx, &AgentPolicy{AgentID: "agent-1", DailyCap: 1000}))

	cached := NewCachedStore(inner).WithCacheTTL(time.Minute)
	p1, err := cached.Get(ctx, "agent-1")
	require.NoError(t, err)

	// Mutate the underlying store directly, bypassing Upsert/Invalidate.
	require.NoError(t, inner.Upsert(ctx, &AgentPolicy{AgentID: "agent-1", DailyCap: 9999}))

	p2, err := cached.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, p1.DailyCap, p2.DailyCap, "cached read must not see the bypassed mutation")
}

func TestCachedStore_UpsertInvalidatesCache(t *testing.T) {
	inner := NewMemoryStore()
	cached := NewCachedStore(inner).WithCacheTTL(time.Minute)
	ctx := context.Background()

	require.NoError(t, cached.Upsert(ctx, &AgentPolicy{AgentID: "agent-1", DailyCap: 1000}))
	_, err := cached.Get(ctx, "agent-1")
	require.NoError(t, err)

	require.NoError(t, cached.Upsert(ctx, &AgentPolicy{AgentID: "agent-1", DailyCap: 2000}))

	p, err := cached.Get(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), p.DailyCap, "upsert must invalidate the stale cache entry")
}

func TestCachedStore_CachesNotFound(t *testing.T) {
	inner := NewMemoryStore()
	cached := NewCachedStore(inner).WithCacheTTL(time.Minute)

	_, err := cached.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPolicyNotFound)

	// Second call should hit the cached not-found entry, not re-query.
	_, err = cached.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPolicyNotFound)
}
