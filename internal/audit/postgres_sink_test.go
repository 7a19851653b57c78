package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govfire/internal/audit"
	"github.com/mbd888/govfire/internal/testutil"
)

func newPgTestRecord(payoutID string) *audit.Record {
	return &audit.Record{
		PayoutID:     payoutID,
		AgentID:      "agent-pg-1",
		Amount:       1000,
		Currency:     "USD",
		VendorName:   "Acme",
		VendorURL:    "https://acme.example.com",
		Decision:     "APPROVED",
		ReasonCode:   "POLICY_OK",
		ProcessingMs: 12,
		Detail:       map[string]string{"note": "pg-backed test"},
	}
}

func TestPostgresSink_CommitThenQuery(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := audit.NewPostgresSink(db)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, newPgTestRecord("pg-payout-1")))

	page, err := s.Query(ctx, audit.Filter{AgentID: "agent-pg-1"})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "pg-payout-1", page.Records[0].PayoutID)
	assert.Equal(t, "Acme", page.Records[0].VendorName)
	assert.Equal(t, "pg-backed test", page.Records[0].Detail["note"])
	assert.False(t, page.Records[0].CommittedAt.IsZero())
}

func TestPostgresSink_DuplicatePayoutIDRejected(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := audit.NewPostgresSink(db)
	ctx := context.Background()

	require.NoError(t, s.Commit(ctx, newPgTestRecord("pg-payout-2")))
	err := s.Commit(ctx, newPgTestRecord("pg-payout-2"))
	require.Error(t, err)
}

func TestPostgresSink_QueryPaginatesWithCursor(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	s := audit.NewPostgresSink(db)
	ctx := context.Background()

	for i, id := range []string{"pg-payout-3", "pg-payout-4", "pg-payout-5"} {
		r := newPgTestRecord(id)
		r.CommittedAt = time.Now().Add(time.Duration(i) * time.Second)
		require.NoError(t, s.Commit(ctx, r))
	}

	first, err := s.Query(ctx, audit.Filter{AgentID: "agent-pg-1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	require.True(t, first.HasMore)
	require.NotEmpty(t, first.NextCursor)

	second, err := s.Query(ctx, audit.Filter{AgentID: "agent-pg-1", Limit: 2, Cursor: first.NextCursor})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(second.Records), 1)

	seen := map[string]bool{}
	for _, r := range append(first.Records, second.Records...) {
		seen[r.PayoutID] = true
	}
	assert.GreaterOrEqual(t, len(seen), 3, "pagination must not skip records across pages")
}
