package governance

// Kind is the top-level outcome of a governance decision (spec §3's
// Decision.kind).
type Kind string

const (
	KindApproved Kind = "APPROVED"
	KindRejected Kind = "REJECTED"
	KindHeld     Kind = "HELD"
	KindSkipped  Kind = "SKIPPED"
)

// ReasonCode names the specific step or rule that produced a Decision, per
// the 9-step algorithm in spec §4.9.
type ReasonCode string

const (
	ReasonIdempotentSkip   ReasonCode = "IDEMPOTENT_SKIP"
	ReasonNoPolicy         ReasonCode = "NO_POLICY"
	ReasonTxnLimitExceeded ReasonCode = "TXN_LIMIT_EXCEEDED"
	ReasonLimitExceeded    ReasonCode = "LIMIT_EXCEEDED"
	ReasonDomainBlocked    ReasonCode = "DOMAIN_BLOCKED"
	ReasonRiskHigh         ReasonCode = "RISK_HIGH"
	ReasonApprovalRequired ReasonCode = "APPROVAL_REQUIRED"
	ReasonPolicyOK         ReasonCode = "POLICY_OK"
	ReasonInternalError    ReasonCode = "INTERNAL_ERROR"
)

// Decision is the output of Engine.Submit: a Kind plus the reason that
// produced it. Per spec §4.9, a Decision is never returned without a
// successful audit commit having already happened for it.
type Decision struct {
	PayoutID     string
	AgentID      string
	Kind         Kind
	ReasonCode   ReasonCode
	ReasonDetail string
	ThreatTags   []string
}
