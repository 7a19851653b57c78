// Package ingress implements the C10 adapter (spec §4.10): it normalizes
// both push-webhook and poll-derived payout intents into the same
// governance.Engine.Submit call, so dedup (C2), reservation, and audit
// behave identically regardless of which mode observed the intent first.
package ingress

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/mbd888/govfire/internal/governance"
	"github.com/mbd888/govfire/internal/payout"
)

// ErrBackpressure is returned when the configured in-flight limit is
// already reached. Push callers translate this into HTTP 503; the pull
// loop ends the current tick early and tries again on the next one.
var ErrBackpressure = errors.New("ingress: in-flight limit reached")

// Adapter is the single entry point both ingress modes submit through.
type Adapter struct {
	engine   *governance.Engine
	limit    int64
	inFlight int64
}

// New constructs an Adapter over engine, capping concurrent governance
// cycles at limit (spec §4.10's "configured in-flight limit").
func New(engine *governance.Engine, limit int) *Adapter {
	if limit <= 0 {
		limit = 1
	}
	return &Adapter{engine: engine, limit: int64(limit)}
}

// Submit runs one governance cycle for intent, subject to the in-flight
// cap. Both HandlePush and the pull loop call this — it is the one place
// backpressure is enforced. The in-flight gauge is kept by governance.Engine.
func (a *Adapter) Submit(ctx context.Context, intent payout.Intent) (*governance.Decision, error) {
	if !a.acquire() {
		return nil, ErrBackpressure
	}
	defer a.release()

	return a.engine.Submit(ctx, intent)
}

func (a *Adapter) acquire() bool {
	for {
		cur := atomic.LoadInt64(&a.inFlight)
		if cur >= a.limit {
			return false
		}
		if atomic.CompareAndSwapInt64(&a.inFlight, cur, cur+1) {
			return true
		}
	}
}

func (a *Adapter) release() {
	atomic.AddInt64(&a.inFlight, -1)
}
