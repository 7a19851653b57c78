// Package kv provides the fast key-value substrate shared by the budget
// ledger (C1) and the idempotency registry (C2): atomic reserve/rollback
// counters with expiry, and atomic claim-once marks.
//
// Per spec §4.1, reserve-with-limit must not be implemented as a
// read-modify-write in the caller — a concurrent pair of reserves could both
// read the same pre-increment value and both succeed, over-spending the
// budget. The canonical implementation is a server-side script (Redis Lua)
// that reads, checks, and writes in one round trip; callers never get to
// observe an intermediate state.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned when the substrate cannot be reached. Callers in
// the budget and idempotency packages treat this as fail-closed per spec §7.
var ErrUnavailable = errors.New("kv: substrate unavailable")

// ReserveResult is the outcome of an atomic check-and-increment.
type ReserveResult struct {
	// Allowed is true if the reservation fit within limit.
	Allowed bool
	// Total is the counter value after this reservation (if Allowed) or the
	// current value that caused rejection (if not).
	Total int64
}

// Store is the fast KV substrate contract. All operations must be safe under
// concurrent use from multiple goroutines and, in the Redis implementation,
// multiple processes.
type Store interface {
	// Reserve atomically adds amount to the counter at key, creating it with
	// the given expiry if absent, but only if the resulting total would not
	// exceed limit. It never partially applies: either the full amount is
	// added and Allowed is true, or nothing is changed and Allowed is false.
	Reserve(ctx context.Context, key string, amount, limit int64, expiry time.Duration) (ReserveResult, error)

	// Rollback atomically subtracts amount from the counter at key. Used to
	// undo a prior Reserve when a later pipeline stage or post-commit action
	// fails. Subtracting below zero is clamped to zero — a rollback can never
	// make a budget counter negative.
	Rollback(ctx context.Context, key string, amount int64) error

	// Current returns the counter's present value, or 0 if it does not
	// exist.
	Current(ctx context.Context, key string) (int64, error)

	// Claim atomically marks key as claimed for ttl, returning true if this
	// call performed the claim (key was previously absent) and false if the
	// key was already claimed by a prior call. This is the single
	// round-trip SET-NX-with-expiry spec §4.2 requires; it must never be
	// implemented as a separate exists-check followed by a set.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Close releases any underlying connections.
	Close() error
}
