// Package paymentaction implements governance.PaymentAction against the
// payment backend: approving a decision captures the held payment, canceling
// releases it. This runs only after a decision has already been durably
// committed (spec §4.9) — a failure here is compensated by the governance
// engine, never retried in place.
package paymentaction

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/govfire/internal/circuitbreaker"
	"github.com/mbd888/govfire/internal/metrics"
)

// ActionTimeout bounds a single approve/cancel call against the payment
// backend, independent of the governance cycle's own end-to-end deadline.
const ActionTimeout = 5 * time.Second

// Backend is the narrow seam over the concrete payment rail, so the
// governance engine's behavior on approve/cancel failure can be tested
// without reaching Stripe.
type Backend interface {
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Client dispatches approve/cancel calls to a Backend behind a dedicated
// circuit breaker, satisfying governance.PaymentAction. A payment-backend
// outage must trip only this breaker, never the reputation or identity
// breakers.
type Client struct {
	backend Backend
	breaker *circuitbreaker.Breaker
}

// New constructs a Client over the given Backend and breaker.
func New(backend Backend, breaker *circuitbreaker.Breaker) *Client {
	return &Client{backend: backend, breaker: breaker}
}

// Approve captures the held payment identified by payoutID.
func (c *Client) Approve(ctx context.Context, payoutID string) error {
	return c.dispatch(ctx, "approve", payoutID, c.backend.Capture)
}

// Cancel releases the held payment identified by payoutID.
func (c *Client) Cancel(ctx context.Context, payoutID string) error {
	return c.dispatch(ctx, "cancel", payoutID, c.backend.Cancel)
}

func (c *Client) dispatch(ctx context.Context, action, payoutID string, fn func(context.Context, string) error) error {
	ctx, cancel := context.WithTimeout(ctx, ActionTimeout)
	defer cancel()

	_, err := circuitbreaker.Call(c.breaker, ctx, "paymentaction:"+action, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx, payoutID)
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.PaymentActionsTotal.WithLabelValues(action, result).Inc()

	if err != nil {
		return fmt.Errorf("paymentaction: %s %s: %w", action, payoutID, err)
	}
	return nil
}
