package audit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/govfire/internal/pagination"
)

// MemorySink is a fully queryable in-process Sink for tests and
// single-process deployments without a configured durable store.
type MemorySink struct {
	mu      sync.RWMutex
	records []*Record
	seen    map[string]bool
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]bool)}
}

func (m *MemorySink) Commit(_ context.Context, r *Record) error {
	if r.CommittedAt.IsZero() {
		r.CommittedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.seen[r.PayoutID] {
		return errCommitDuplicate(r.PayoutID)
	}
	m.seen[r.PayoutID] = true

	cp := *r
	m.records = append(m.records, &cp)
	return nil
}

func (m *MemorySink) Query(_ context.Context, f Filter) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cursor, err := pagination.Decode(f.Cursor)
	if err != nil {
		return nil, fmt.Errorf("audit: invalid cursor: %w", err)
	}

	var matched []*Record
	for _, r := range m.records {
		if f.AgentID != "" && r.AgentID != f.AgentID {
			continue
		}
		if f.Decision != "" && r.Decision != f.Decision {
			continue
		}
		if !f.Since.IsZero() && r.CommittedAt.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && r.CommittedAt.After(f.Until) {
			continue
		}
		if cursor != nil && !before(r.CommittedAt, r.PayoutID, cursor.CreatedAt, cursor.ID) {
			continue
		}
		matched = append(matched, r)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CommittedAt.Equal(matched[j].CommittedAt) {
			return matched[i].CommittedAt.After(matched[j].CommittedAt)
		}
		return matched[i].PayoutID > matched[j].PayoutID
	})

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	trimmed, next, hasMore := pagination.ComputePage(matched, limit, func(r *Record) (time.Time, string) {
		return r.CommittedAt, r.PayoutID
	})
	return &Page{Records: trimmed, NextCursor: next, HasMore: hasMore}, nil
}

// before reports whether (committedAt, payoutID) sorts strictly after the
// cursor position in the DESC, DESC ordering — i.e. whether it belongs on
// the next page, mirroring the Postgres sink's "(committed_at, payout_id) <
// (cursor)" predicate.
func before(committedAt time.Time, payoutID string, cursorAt time.Time, cursorID string) bool {
	if committedAt.Before(cursorAt) {
		return true
	}
	if committedAt.After(cursorAt) {
		return false
	}
	return payoutID < cursorID
}

func (m *MemorySink) Close() error {
	return nil
}

func errCommitDuplicate(payoutID string) error {
	return &duplicateCommitError{payoutID: payoutID}
}

type duplicateCommitError struct {
	payoutID string
}

func (e *duplicateCommitError) Error() string {
	return "audit: duplicate commit for payout " + e.payoutID
}

var _ Sink = (*MemorySink)(nil)
