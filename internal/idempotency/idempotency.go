// Package idempotency implements the at-most-once gate (spec §4.2): a
// single substrate round-trip that claims a payout_id the first time it is
// seen and reports already-seen on every subsequent call, for at least the
// configured retention window.
package idempotency

import (
	"errors"
	"fmt"
	"time"

	"context"

	"github.com/mbd888/govfire/internal/kv"
)

// Retention is the minimum claim lifetime, covering realistic webhook-retry
// windows per spec §4.2.
const Retention = 48 * time.Hour

// ErrUnavailable is returned when the substrate could not be reached. C9
// treats this as a fail-closed REJECT, per spec §4.2.
var ErrUnavailable = kv.ErrUnavailable

// Registry exposes Claim over the shared KV substrate.
type Registry struct {
	store kv.Store
}

// New constructs a Registry backed by the given substrate.
func New(store kv.Store) *Registry {
	return &Registry{store: store}
}

func claimKey(payoutID string) string {
	return "idem:" + payoutID
}

// Claim reports whether this call is the first to see payoutID. It performs
// the check and the mark as one atomic set-if-absent-with-expiry substrate
// round trip; it must never be implemented as a separate exists-check
// followed by a set, which would leak the key forever on a crash between
// the two calls.
func (r *Registry) Claim(ctx context.Context, payoutID string) (firstSeen bool, err error) {
	ok, err := r.store.Claim(ctx, claimKey(payoutID), Retention)
	if err != nil {
		return false, fmt.Errorf("idempotency: claim %s: %w", payoutID, errors.Join(ErrUnavailable, err))
	}
	return ok, nil
}
