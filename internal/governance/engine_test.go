package governance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govfire/internal/audit"
	"github.com/mbd888/govfire/internal/budget"
	"github.com/mbd888/govfire/internal/circuitbreaker"
	"github.com/mbd888/govfire/internal/idempotency"
	"github.com/mbd888/govfire/internal/kv"
	"github.com/mbd888/govfire/internal/payout"
	"github.com/mbd888/govfire/internal/policy"
	"github.com/mbd888/govfire/internal/reputation"
)

type stubAction struct {
	approveErr error
	cancelErr  error
	approved   []string
	cancelled  []string
}

func (a *stubAction) Approve(_ context.Context, payoutID string) error {
	a.approved = append(a.approved, payoutID)
	return a.approveErr
}

func (a *stubAction) Cancel(_ context.Context, payoutID string) error {
	a.cancelled = append(a.cancelled, payoutID)
	return a.cancelErr
}

type stubNotifier struct {
	notified []string
}

func (n *stubNotifier) NotifyHeld(_ context.Context, intent payout.Intent, _ string) error {
	n.notified = append(n.notified, intent.PayoutID)
	return nil
}

func newTestEngine(t *testing.T, safeVendor bool) (*Engine, *policy.MemoryStore, *audit.MemorySink, *stubAction) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URLs []string `json:"urls"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		matches := []map[string]any{}
		if !safeVendor {
			for _, u := range req.URLs {
				matches = append(matches, map[string]any{"url": u, "threatTags": []string{"phishing"}})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"matches": matches})
	}))
	t.Cleanup(srv.Close)

	idemStore := kv.NewMemoryStore()
	budgetStore := kv.NewMemoryStore()
	idem := idempotency.New(idemStore)
	ledger := budget.New(budgetStore)
	policies := policy.NewMemoryStore()
	sink := audit.NewMemorySink()
	rep := reputation.New(srv.URL, "", circuitbreaker.New(5, time.Minute))
	action := &stubAction{}
	notifier := &stubNotifier{}

	e := New(idem, policies, ledger, rep, sink, action, notifier)
	return e, policies, sink, action
}

func intent(payoutID, agentID string, amount int64, vendorURL string) payout.Intent {
	return payout.Intent{
		PayoutID:   payoutID,
		AgentID:    agentID,
		Amount:     amount,
		Currency:   "USD",
		VendorURL:  vendorURL,
		ReceivedAt: time.Now(),
	}
}

func TestEngine_NoPolicyRejects(t *testing.T) {
	e, _, sink, action := newTestEngine(t, true)

	d, err := e.Submit(context.Background(), intent("p1", "agent-unknown", 100, ""))
	require.NoError(t, err)
	assert.Equal(t, KindRejected, d.Kind)
	assert.Equal(t, ReasonNoPolicy, d.ReasonCode)

	page, err := sink.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, []string{"p1"}, action.cancelled)
}

func TestEngine_PerTxnCapRejects(t *testing.T) {
	e, policies, _, _ := newTestEngine(t, true)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000, PerTxnCap: 500,
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 1000, ""))
	require.NoError(t, err)
	assert.Equal(t, KindRejected, d.Kind)
	assert.Equal(t, ReasonTxnLimitExceeded, d.ReasonCode)
}

func TestEngine_DailyCapRejects(t *testing.T) {
	e, policies, _, _ := newTestEngine(t, true)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 100,
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 1000, ""))
	require.NoError(t, err)
	assert.Equal(t, KindRejected, d.Kind)
	assert.Equal(t, ReasonLimitExceeded, d.ReasonCode)
}

func TestEngine_BlockedDomainRejectsAndRollsBack(t *testing.T) {
	e, policies, _, _ := newTestEngine(t, true)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000, BlockedDomains: []string{"bad.example.com"},
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 100, "https://bad.example.com/pay"))
	require.NoError(t, err)
	assert.Equal(t, KindRejected, d.Kind)
	assert.Equal(t, ReasonDomainBlocked, d.ReasonCode)

	total, err := e.budget.Current(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Zero(t, total, "a rejected reservation must be rolled back")
}

func TestEngine_NotInAllowedListRejects(t *testing.T) {
	e, policies, _, _ := newTestEngine(t, true)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000, AllowedDomains: []string{"good.example.com"},
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 100, "https://other.example.com/pay"))
	require.NoError(t, err)
	assert.Equal(t, KindRejected, d.Kind)
	assert.Equal(t, ReasonDomainBlocked, d.ReasonCode)
}

func TestEngine_MissingVendorURLWithAllowlistRejectsFailClosed(t *testing.T) {
	e, policies, _, _ := newTestEngine(t, true)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000, AllowedDomains: []string{"good.example.com"},
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 100, ""))
	require.NoError(t, err)
	assert.Equal(t, KindRejected, d.Kind, "an agent with an allowlist must name its vendor; a missing URL fails closed")
	assert.Equal(t, ReasonDomainBlocked, d.ReasonCode)
}

func TestEngine_UnsafeVendorRejectsWithThreatTags(t *testing.T) {
	e, policies, _, _ := newTestEngine(t, false)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000,
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 100, "https://vendor.example.com/pay"))
	require.NoError(t, err)
	assert.Equal(t, KindRejected, d.Kind)
	assert.Equal(t, ReasonRiskHigh, d.ReasonCode)
	assert.Contains(t, d.ThreatTags, "phishing")
}

func TestEngine_ApprovalThresholdHolds(t *testing.T) {
	e, policies, _, action := newTestEngine(t, true)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000, ApprovalThreshold: 500,
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 600, ""))
	require.NoError(t, err)
	assert.Equal(t, KindHeld, d.Kind)
	assert.Equal(t, ReasonApprovalRequired, d.ReasonCode)

	total, err := e.budget.Current(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), total, "a HELD decision must keep the reservation in place")
	assert.Empty(t, action.approved, "a HELD decision must not trigger a payment action")
}

func TestEngine_ApprovedDispatchesPaymentAction(t *testing.T) {
	e, policies, _, action := newTestEngine(t, true)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000,
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 100, ""))
	require.NoError(t, err)
	assert.Equal(t, KindApproved, d.Kind)
	assert.Equal(t, ReasonPolicyOK, d.ReasonCode)
	assert.Equal(t, []string{"p1"}, action.approved)
}

func TestEngine_DuplicatePayoutIDSkipped(t *testing.T) {
	e, policies, sink, _ := newTestEngine(t, true)
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000,
	}))

	first, err := e.Submit(context.Background(), intent("p1", "agent-1", 100, ""))
	require.NoError(t, err)
	assert.Equal(t, KindApproved, first.Kind)

	second, err := e.Submit(context.Background(), intent("p1", "agent-1", 100, ""))
	require.NoError(t, err)
	assert.Equal(t, KindSkipped, second.Kind)
	assert.Equal(t, ReasonIdempotentSkip, second.ReasonCode)

	page, err := sink.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Len(t, page.Records, 2, "the original APPROVED record plus a separately-keyed duplicate-observation record")
}

func TestEngine_ApprovedActionFailureWritesCompensatingEntry(t *testing.T) {
	e, policies, sink, action := newTestEngine(t, true)
	action.approveErr = assertErr("stripe down")
	require.NoError(t, policies.Upsert(context.Background(), &policy.AgentPolicy{
		AgentID: "agent-1", DailyCap: 10000,
	}))

	d, err := e.Submit(context.Background(), intent("p1", "agent-1", 100, ""))
	require.NoError(t, err)
	assert.Equal(t, KindApproved, d.Kind, "the original decision is never rewritten")

	total, err := e.budget.Current(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Zero(t, total, "a compensating rollback must release the reservation")

	page, err := sink.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, page.Records, 2, "the original APPROVED record plus a compensating entry")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
