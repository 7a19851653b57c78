package paymentaction

import (
	"context"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeBackend captures or cancels a held PaymentIntent through the Stripe
// API. The payout_id the payment backend assigns is the PaymentIntent ID of
// the corresponding manual-capture hold.
type StripeBackend struct {
	sc *client.API
}

// NewStripeBackend constructs a Stripe-backed Backend for the given secret
// key.
func NewStripeBackend(secretKey string) *StripeBackend {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &StripeBackend{sc: sc}
}

func (s *StripeBackend) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.sc.PaymentIntents.Capture(paymentIntentID, params)
	return err
}

func (s *StripeBackend) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.sc.PaymentIntents.Cancel(paymentIntentID, params)
	return err
}

var _ Backend = (*StripeBackend)(nil)
