// Package governance implements the decision matrix (C9, spec §4.9): the
// core governance pipeline that every payout intent passes through exactly
// once, producing a Decision and exactly one committed AuditRecord for it
// (plus a separately keyed compensating entry when a post-commit approve
// call fails).
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/govfire/internal/anomaly"
	"github.com/mbd888/govfire/internal/audit"
	"github.com/mbd888/govfire/internal/budget"
	"github.com/mbd888/govfire/internal/idempotency"
	"github.com/mbd888/govfire/internal/identity"
	"github.com/mbd888/govfire/internal/idgen"
	"github.com/mbd888/govfire/internal/metrics"
	"github.com/mbd888/govfire/internal/payout"
	"github.com/mbd888/govfire/internal/policy"
	"github.com/mbd888/govfire/internal/reputation"
	"github.com/mbd888/govfire/internal/traces"
)

// PaymentAction is the narrow capability the engine needs from the payment
// backend after a decision is reached (spec §4.9 "post-commit action
// coupling"). The concrete Stripe-backed implementation lives in
// internal/paymentaction.
type PaymentAction interface {
	Approve(ctx context.Context, payoutID string) error
	Cancel(ctx context.Context, payoutID string) error
}

// Notifier is the narrow capability the engine needs to alert a human
// operator of a HELD decision. The concrete implementation lives in
// internal/notify.
type Notifier interface {
	NotifyHeld(ctx context.Context, intent payout.Intent, detail string) error
}

// Engine is the C9 decision matrix. It is constructed once at startup and
// is safe for concurrent use — every collaborator it holds already
// serializes its own state (the KV substrate, the policy cache, etc.), so
// Submit itself holds no lock.
type Engine struct {
	idempotency *idempotency.Registry
	policies    policy.Store
	budget      *budget.Ledger
	reputation  *reputation.Client
	identity    *identity.Verifier // optional, advisory; may be nil
	anomaly     *anomaly.Scorer    // optional, advisory; may be nil
	auditSink   audit.Sink
	action      PaymentAction
	notifier    Notifier
	logger      *slog.Logger
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithIdentity attaches the optional advisory identity verifier.
func WithIdentity(v *identity.Verifier) Option {
	return func(e *Engine) { e.identity = v }
}

// WithAnomaly attaches the optional advisory anomaly scorer.
func WithAnomaly(s *anomaly.Scorer) Option {
	return func(e *Engine) { e.anomaly = s }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New constructs an Engine from its required collaborators.
func New(
	idem *idempotency.Registry,
	policies policy.Store,
	ledger *budget.Ledger,
	rep *reputation.Client,
	sink audit.Sink,
	action PaymentAction,
	notifier Notifier,
	opts ...Option,
) *Engine {
	e := &Engine{
		idempotency: idem,
		policies:    policies,
		budget:      ledger,
		reputation:  rep,
		auditSink:   sink,
		action:      action,
		notifier:    notifier,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit runs intent through the 9-step decision matrix and returns the
// resulting Decision. Per spec §4.9, Submit always writes exactly one
// audit record for the decision (a failed post-commit approve call adds a
// separately keyed compensating entry) and never returns a Decision without
// having done so; a
// non-nil error indicates that even the audit commit failed (infrastructure
// failure at the very edge), which callers must treat as an internal error
// distinct from any Decision.
func (e *Engine) Submit(ctx context.Context, intent payout.Intent) (*Decision, error) {
	ctx, span := traces.StartSpan(ctx, "governance.Submit",
		traces.PayoutID(intent.PayoutID), traces.AgentID(intent.AgentID), traces.Amount(intent.Amount))
	defer span.End()

	decision, err := e.submit(ctx, intent)
	if decision != nil {
		span.SetAttributes(traces.DecisionKind(string(decision.Kind)))
	}
	if err != nil {
		span.RecordError(err)
	}
	return decision, err
}

func (e *Engine) submit(ctx context.Context, intent payout.Intent) (*Decision, error) {
	start := time.Now()
	metrics.InFlightIntents.Inc()
	defer func() {
		metrics.InFlightIntents.Dec()
		metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	}()

	// Step 1: idempotency claim. Errors here need no rollback — nothing has
	// been reserved yet.
	firstSeen, err := e.idempotency.Claim(ctx, intent.PayoutID)
	if err != nil {
		return e.commitNoReserve(ctx, intent, KindRejected, ReasonInternalError, err.Error(), start)
	}
	if !firstSeen {
		return e.commitDuplicateObservation(ctx, intent, start)
	}

	// Step 2: policy lookup.
	pol, err := e.policies.Get(ctx, intent.AgentID)
	if err != nil {
		if errors.Is(err, policy.ErrPolicyNotFound) {
			return e.commitNoReserve(ctx, intent, KindRejected, ReasonNoPolicy, "no policy configured for agent", start)
		}
		return e.commitNoReserve(ctx, intent, KindRejected, ReasonInternalError, err.Error(), start)
	}

	// Step 3: per-transaction cap. Checked before reservation so an
	// oversized request never temporarily inflates the daily counter.
	if pol.PerTxnCap > 0 && intent.Amount > pol.PerTxnCap {
		detail := fmt.Sprintf("amount %d exceeds per-transaction cap %d", intent.Amount, pol.PerTxnCap)
		return e.commitNoReserve(ctx, intent, KindRejected, ReasonTxnLimitExceeded, detail, start)
	}

	// Step 4: reserve against the daily cap.
	res, err := e.budget.Reserve(ctx, intent.AgentID, intent.Amount, pol.DailyCap)
	if err != nil {
		return e.commitNoReserve(ctx, intent, KindRejected, ReasonInternalError, err.Error(), start)
	}
	if !res.Allowed {
		detail := fmt.Sprintf("daily total %d would exceed cap %d", res.Total, pol.DailyCap)
		return e.commitNoReserve(ctx, intent, KindRejected, ReasonLimitExceeded, detail, start)
	}

	// From here on, every rejection or internal error must roll back the
	// reservation just made.
	return e.evaluateAfterReserve(ctx, intent, pol, start)
}

// evaluateAfterReserve runs steps 5-9. Every return path from here rolls
// back the reservation unless it reaches the terminal APPROVED or HELD
// commit.
func (e *Engine) evaluateAfterReserve(ctx context.Context, intent payout.Intent, pol *policy.AgentPolicy, start time.Time) (*Decision, error) {
	// Step 5/6: domain checks.
	domain := pol.CheckDomain(intent.VendorURL)
	if domain == policy.DomainBlocked {
		return e.rollbackAndCommit(ctx, intent, KindRejected, ReasonDomainBlocked, "vendor domain is on the blocked list", nil, start)
	}
	// An agent with a non-empty allowlist must name every vendor it pays,
	// so a missing vendor URL is DomainNeutral and therefore rejected here
	// too, not silently let through. Fail-closed is intentional: spec §7
	// treats domain checks as financial, not advisory.
	if len(pol.AllowedDomains) > 0 && domain != policy.DomainAllowed {
		return e.rollbackAndCommit(ctx, intent, KindRejected, ReasonDomainBlocked, "vendor domain is not on the allowed list", nil, start)
	}

	// Step 7: reputation evaluation, only meaningful when a vendor URL is
	// present.
	if intent.VendorURL != "" {
		verdict, err := e.reputation.Evaluate(ctx, intent.VendorURL)
		if err != nil {
			return e.rollbackAndCommit(ctx, intent, KindRejected, ReasonInternalError, err.Error(), nil, start)
		}
		if !verdict.Safe {
			return e.rollbackAndCommit(ctx, intent, KindRejected, ReasonRiskHigh, "vendor failed reputation screening", verdict.ThreatTags, start)
		}
	}

	// Step 8: human-approval threshold. Budget stays reserved; no rollback.
	if pol.ApprovalThreshold > 0 && intent.Amount >= pol.ApprovalThreshold {
		detail := fmt.Sprintf("amount %d meets or exceeds approval threshold %d", intent.Amount, pol.ApprovalThreshold)
		decision, err := e.commit(ctx, intent, KindHeld, ReasonApprovalRequired, detail, nil, start)
		if err != nil {
			return decision, err
		}
		if e.notifier != nil {
			if nerr := e.notifier.NotifyHeld(ctx, intent, detail); nerr != nil {
				e.logger.Error("governance: held-notification failed", "payout_id", intent.PayoutID, "error", nerr)
			}
		}
		return decision, nil
	}

	// Step 9: approved.
	decision, err := e.commit(ctx, intent, KindApproved, ReasonPolicyOK, "", nil, start)
	if err != nil {
		return decision, err
	}
	e.dispatchPostCommit(ctx, intent, decision)
	return decision, nil
}

// dispatchPostCommit performs the post-commit payment-action call for a
// terminal APPROVED or REJECTED decision, per spec §4.9. An APPROVED
// action failure is compensated: the reservation is rolled back and a
// compensating INTERNAL_ERROR audit entry is written; the original
// APPROVED record is never rewritten, since audit is append-only.
func (e *Engine) dispatchPostCommit(ctx context.Context, intent payout.Intent, decision *Decision) {
	if e.action == nil {
		return
	}

	switch decision.Kind {
	case KindApproved:
		if err := e.action.Approve(ctx, intent.PayoutID); err != nil {
			e.logger.Error("governance: post-commit approve failed, compensating", "payout_id", intent.PayoutID, "error", err)
			if rerr := e.budget.Rollback(ctx, intent.AgentID, intent.Amount); rerr != nil {
				e.logger.Error("governance: compensating rollback failed", "payout_id", intent.PayoutID, "error", rerr)
			}
			detail := fmt.Sprintf("payment-action approve failed after APPROVED commit: %v", err)
			e.writeCompensatingEntry(ctx, intent, detail)
		}
	case KindRejected:
		if err := e.action.Cancel(ctx, intent.PayoutID); err != nil {
			e.logger.Error("governance: post-commit cancel failed", "payout_id", intent.PayoutID, "error", err)
		}
	}
}

func (e *Engine) writeCompensatingEntry(ctx context.Context, intent payout.Intent, detail string) {
	rec := &audit.Record{
		PayoutID:     intent.PayoutID + ":compensating",
		AgentID:      intent.AgentID,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		VendorName:   intent.VendorName,
		VendorURL:    intent.VendorURL,
		Decision:     string(KindRejected),
		ReasonCode:   string(ReasonInternalError),
		ReasonDetail: detail,
	}
	if err := e.auditSink.Commit(ctx, rec); err != nil {
		e.logger.Error("governance: compensating audit entry failed", "payout_id", intent.PayoutID, "error", err)
		return
	}
	metrics.CompensatingEntriesTotal.Inc()
}

// rollbackAndCommit rolls back the reservation made in Submit's step 4,
// then commits the given terminal decision.
func (e *Engine) rollbackAndCommit(ctx context.Context, intent payout.Intent, kind Kind, reason ReasonCode, detail string, threatTags []string, start time.Time) (*Decision, error) {
	if err := e.budget.Rollback(ctx, intent.AgentID, intent.Amount); err != nil {
		e.logger.Error("governance: rollback failed", "payout_id", intent.PayoutID, "error", err)
	}
	decision, err := e.commit(ctx, intent, kind, reason, detail, threatTags, start)
	if err != nil {
		return decision, err
	}
	e.dispatchPostCommit(ctx, intent, decision)
	return decision, nil
}

// commitNoReserve commits a decision reached before any reservation was
// made (steps 1-4's early exits); there is nothing to roll back.
func (e *Engine) commitNoReserve(ctx context.Context, intent payout.Intent, kind Kind, reason ReasonCode, detail string, start time.Time) (*Decision, error) {
	decision, err := e.commit(ctx, intent, kind, reason, detail, nil, start)
	if err != nil {
		return decision, err
	}
	if kind == KindRejected {
		e.dispatchPostCommit(ctx, intent, decision)
	}
	return decision, nil
}

// commitDuplicateObservation writes the SKIPPED decision for a payout_id
// already claimed by a prior Submit. Per spec §4.9 step 1, this must still
// write an audit record marking the duplicate observation — but the audit
// sink's unique index is on payout_id, so a second, third, ... observation
// of the same payout cannot reuse the original record's key. Each
// duplicate-observation record gets its own generated key instead; the
// Decision returned to the caller still carries the original PayoutID.
func (e *Engine) commitDuplicateObservation(ctx context.Context, intent payout.Intent, start time.Time) (*Decision, error) {
	decision := &Decision{
		PayoutID:   intent.PayoutID,
		AgentID:    intent.AgentID,
		Kind:       KindSkipped,
		ReasonCode: ReasonIdempotentSkip,
	}

	rec := &audit.Record{
		PayoutID:     idgen.WithPrefix("dup_" + intent.PayoutID + "_"),
		AgentID:      intent.AgentID,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		VendorName:   intent.VendorName,
		VendorURL:    intent.VendorURL,
		Decision:     string(KindSkipped),
		ReasonCode:   string(ReasonIdempotentSkip),
		ReasonDetail: "duplicate observation of payout_id " + intent.PayoutID,
		ProcessingMs: time.Since(start).Milliseconds(),
	}

	if err := e.auditSink.Commit(ctx, rec); err != nil {
		return nil, fmt.Errorf("governance: audit commit failed for duplicate observation of payout %s: %w", intent.PayoutID, err)
	}

	metrics.DecisionsTotal.WithLabelValues(string(KindSkipped), string(ReasonIdempotentSkip)).Inc()
	return decision, nil
}

// commit builds the Decision, writes its audit record, and records the
// decisions_total metric. Per spec §4.9, a Decision is never returned to
// the caller without a successful audit commit.
func (e *Engine) commit(ctx context.Context, intent payout.Intent, kind Kind, reason ReasonCode, detail string, threatTags []string, start time.Time) (*Decision, error) {
	decision := &Decision{
		PayoutID:     intent.PayoutID,
		AgentID:      intent.AgentID,
		Kind:         kind,
		ReasonCode:   reason,
		ReasonDetail: detail,
		ThreatTags:   threatTags,
	}

	rec := &audit.Record{
		PayoutID:     intent.PayoutID,
		AgentID:      intent.AgentID,
		Amount:       intent.Amount,
		Currency:     intent.Currency,
		VendorName:   intent.VendorName,
		VendorURL:    intent.VendorURL,
		Decision:     string(kind),
		ReasonCode:   string(reason),
		ReasonDetail: detail,
		ThreatTags:   threatTags,
		ProcessingMs: time.Since(start).Milliseconds(),
	}
	e.enrichAdvisory(ctx, intent, rec)

	if err := e.auditSink.Commit(ctx, rec); err != nil {
		return nil, fmt.Errorf("governance: audit commit failed for payout %s: %w", intent.PayoutID, err)
	}

	metrics.DecisionsTotal.WithLabelValues(string(kind), string(reason)).Inc()
	return decision, nil
}

// enrichAdvisory attaches C7/C8's advisory output to the audit record's
// Detail map. Per spec §4.7/§4.8 and DESIGN.md's Open-Question decisions,
// neither collaborator ever gates the decision itself — a failure or
// absence here is silently skipped.
func (e *Engine) enrichAdvisory(ctx context.Context, intent payout.Intent, rec *audit.Record) {
	if rec.Detail == nil {
		rec.Detail = make(map[string]string)
	}

	if e.identity != nil {
		att, err := e.identity.Verify(ctx, intent.AgentID, intent.VendorName)
		if err == nil {
			rec.Detail["identity_verified"] = fmt.Sprintf("%t", att.Verified)
			rec.Detail["identity_status"] = string(att.Status)
		}
	}

	if e.anomaly != nil {
		result := e.anomaly.Score(ctx, intent.AgentID, intent.Amount, intent.ReceivedAt)
		if result.ModelTrained {
			rec.Detail["anomaly_risk_score"] = fmt.Sprintf("%.4f", result.RiskScore)
			rec.Detail["anomaly_flagged"] = fmt.Sprintf("%t", result.Anomalous)
		}
	}
}
