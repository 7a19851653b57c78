// Package budget implements the per-agent daily spend counter (spec §4.1):
// atomic check-and-reserve against a daily cap, rollback, and read-only
// current-total queries, atop the shared fast KV substrate in internal/kv.
package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/govfire/internal/kv"
)

// dailyExpiry is the self-expiry attached to a counter on its first write of
// the day, per spec §4.1 ("25-hour expiry"). It is deliberately longer than
// 24h so a counter created a few seconds before UTC midnight still covers
// the full calendar day it was opened for.
const dailyExpiry = 25 * time.Hour

// ErrUnavailable is returned when the substrate could not be reached.
// Per spec §4.1 this is a fail-closed condition: reserve must report denied,
// never silently allow.
var ErrUnavailable = kv.ErrUnavailable

// Ledger exposes reserve/rollback/current over the shared KV substrate.
type Ledger struct {
	store kv.Store
}

// New constructs a Ledger backed by the given substrate.
func New(store kv.Store) *Ledger {
	return &Ledger{store: store}
}

// Result is the outcome of a Reserve call.
type Result struct {
	Allowed bool
	// Total is the counter value after a successful reserve, or the current
	// value that caused rejection.
	Total int64
}

// key builds the day-bounded counter key per spec §4.1: "{agent_id}:{yyyymmdd}"
// in UTC, so counters self-expire in step with the calendar day they track.
func key(agentID string, at time.Time) string {
	return fmt.Sprintf("%s:%s", agentID, at.UTC().Format("20060102"))
}

// Reserve atomically checks amount against dailyCap and, if it fits,
// increments the counter for agentID's current UTC day. The check and the
// increment are a single indivisible step in the substrate — see
// internal/kv's Reserve script. On substrate failure this returns
// ErrUnavailable; callers must treat that as denied, not as allowed.
func (l *Ledger) Reserve(ctx context.Context, agentID string, amount, dailyCap int64) (Result, error) {
	res, err := l.store.Reserve(ctx, key(agentID, time.Now()), amount, dailyCap, dailyExpiry)
	if err != nil {
		return Result{}, fmt.Errorf("budget: reserve agent=%s: %w", agentID, errors.Join(ErrUnavailable, err))
	}
	return Result{Allowed: res.Allowed, Total: res.Total}, nil
}

// Rollback decrements agentID's current-day counter by amount. Must only be
// called by the same logical request that successfully reserved that
// amount, per spec §4.1.
func (l *Ledger) Rollback(ctx context.Context, agentID string, amount int64) error {
	if err := l.store.Rollback(ctx, key(agentID, time.Now()), amount); err != nil {
		return fmt.Errorf("budget: rollback agent=%s: %w", agentID, errors.Join(ErrUnavailable, err))
	}
	return nil
}

// Current returns the reserved total for agentID's current UTC day, or 0 if
// no reservation has been made yet. Read-only, advisory for external
// queries (e.g. the admin surface's get_budget).
func (l *Ledger) Current(ctx context.Context, agentID string) (int64, error) {
	total, err := l.store.Current(ctx, key(agentID, time.Now()))
	if err != nil {
		return 0, fmt.Errorf("budget: current agent=%s: %w", agentID, errors.Join(ErrUnavailable, err))
	}
	return total, nil
}
