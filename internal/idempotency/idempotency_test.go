package idempotency

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govfire/internal/kv"
)

func TestRegistry_FirstClaimSucceeds(t *testing.T) {
	r := New(kv.NewMemoryStore())
	first, err := r.Claim(context.Background(), "payout-abc")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRegistry_DuplicateClaimReportsAlreadySeen(t *testing.T) {
	r := New(kv.NewMemoryStore())
	ctx := context.Background()

	first, err := r.Claim(ctx, "payout-abc")
	require.NoError(t, err)
	require.True(t, first)

	second, err := r.Claim(ctx, "payout-abc")
	require.NoError(t, err)
	assert.False(t, second, "re-claiming the same payout_id must report already-seen")
}

func TestRegistry_DistinctPayoutIDsClaimIndependently(t *testing.T) {
	r := New(kv.NewMemoryStore())
	ctx := context.Background()

	first, err := r.Claim(ctx, "payout-a")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := r.Claim(ctx, "payout-b")
	require.NoError(t, err)
	assert.True(t, second)
}
