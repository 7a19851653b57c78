package policy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govfire/internal/policy"
	"github.com/mbd888/govfire/internal/testutil"
)

func TestPostgresStore_UpsertThenGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := policy.NewPostgresStore(db)
	ctx := context.Background()

	p := &policy.AgentPolicy{
		AgentID:        "agent-pg-1",
		DailyCap:       5000,
		PerTxnCap:      1000,
		AllowedDomains: []string{"vendor.com"},
		BlockedDomains: []string{"scam.net"},
	}
	require.NoError(t, s.Upsert(ctx, p))

	got, err := s.Get(ctx, "agent-pg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got.DailyCap)
	assert.Equal(t, int64(1000), got.PerTxnCap)
	assert.Equal(t, []string{"vendor.com"}, got.AllowedDomains)
	assert.Equal(t, []string{"scam.net"}, got.BlockedDomains)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestPostgresStore_GetMissingReturnsNotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := policy.NewPostgresStore(db)
	_, err := s.Get(context.Background(), "no-such-agent")
	assert.ErrorIs(t, err, policy.ErrPolicyNotFound)
}

func TestPostgresStore_UpsertOverwritesExistingRow(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := policy.NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, &policy.AgentPolicy{AgentID: "agent-pg-2", DailyCap: 1000}))
	first, err := s.Get(ctx, "agent-pg-2")
	require.NoError(t, err)

	require.NoError(t, s.Upsert(ctx, &policy.AgentPolicy{AgentID: "agent-pg-2", DailyCap: 2000}))
	second, err := s.Get(ctx, "agent-pg-2")
	require.NoError(t, err)

	assert.Equal(t, int64(2000), second.DailyCap)
	assert.Equal(t, first.CreatedAt, second.CreatedAt, "created_at must survive an upsert")
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt) || second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestPostgresStore_UpsertRejectsInvalidPolicy(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := policy.NewPostgresStore(db)
	err := s.Upsert(context.Background(), &policy.AgentPolicy{AgentID: "agent-pg-3", DailyCap: -1})
	assert.ErrorIs(t, err, policy.ErrInvalidPolicy)
}
