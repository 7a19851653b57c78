// Package audit implements the immutable decision trace (spec §3, §4.4):
// every terminal decision the governance engine emits produces exactly one
// AuditRecord, durably committed before the decision is returned to the
// ingress adapter, falling back to a local append-only file when the
// primary sink is unreachable. The sink never swallows a write: if both
// primary and fallback fail, Commit returns an error to the caller.
package audit

import (
	"context"
	"errors"
	"time"
)

// ErrCommitFailed is wrapped by Commit when both the primary sink and the
// local fallback file failed to persist a record. This must never be
// silently discarded by a caller — spec §4.4 requires the sink to raise.
var ErrCommitFailed = errors.New("audit: commit failed on both primary and fallback")

// Record is the persistent decision trace (spec §3's AuditRecord).
type Record struct {
	PayoutID     string            `json:"payoutId"`
	AgentID      string            `json:"agentId"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	VendorName   string            `json:"vendorName,omitempty"`
	VendorURL    string            `json:"vendorUrl,omitempty"`
	Decision     string            `json:"decision"` // APPROVED | REJECTED | HELD | SKIPPED
	ReasonCode   string            `json:"reasonCode"`
	ReasonDetail string            `json:"reasonDetail,omitempty"`
	ThreatTags   []string          `json:"threatTags,omitempty"`
	ProcessingMs int64             `json:"processingMs"`
	Detail       map[string]string `json:"detail,omitempty"` // advisory annotations (e.g. identity/anomaly results)
	CommittedAt  time.Time         `json:"committedAt"`
}

// Filter narrows a get_audit query (admin/query surface, spec §6).
type Filter struct {
	AgentID  string
	Decision string
	Since    time.Time
	Until    time.Time
	Limit    int
	Cursor   string
}

// Page is a single page of audit records.
type Page struct {
	Records    []*Record
	NextCursor string
	HasMore    bool
}

// Sink persists AuditRecords durably.
type Sink interface {
	Commit(ctx context.Context, r *Record) error
	Query(ctx context.Context, f Filter) (*Page, error)
	Close() error
}
