package paymentaction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govfire/internal/circuitbreaker"
)

type stubBackend struct {
	captureErr error
	cancelErr  error
	delay      time.Duration
	captures   []string
	cancels    []string
}

func (s *stubBackend) Capture(ctx context.Context, paymentIntentID string) error {
	s.captures = append(s.captures, paymentIntentID)
	return s.wait(ctx, s.captureErr)
}

func (s *stubBackend) Cancel(ctx context.Context, paymentIntentID string) error {
	s.cancels = append(s.cancels, paymentIntentID)
	return s.wait(ctx, s.cancelErr)
}

func (s *stubBackend) wait(ctx context.Context, err error) error {
	if s.delay == 0 {
		return err
	}
	select {
	case <-time.After(s.delay):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestClient_ApproveCapturesPaymentIntent(t *testing.T) {
	b := &stubBackend{}
	c := New(b, circuitbreaker.New(3, 50*time.Millisecond))

	err := c.Approve(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, []string{"pi_123"}, b.captures)
}

func TestClient_CancelReleasesPaymentIntent(t *testing.T) {
	b := &stubBackend{}
	c := New(b, circuitbreaker.New(3, 50*time.Millisecond))

	err := c.Cancel(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, []string{"pi_123"}, b.cancels)
}

func TestClient_ApproveWrapsBackendError(t *testing.T) {
	b := &stubBackend{captureErr: errors.New("card declined")}
	c := New(b, circuitbreaker.New(3, 50*time.Millisecond))

	err := c.Approve(context.Background(), "pi_123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pi_123")
}

func TestClient_ApproveTimesOutOnSlowBackend(t *testing.T) {
	b := &stubBackend{delay: 2 * time.Second}
	c := New(b, circuitbreaker.New(3, 50*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Approve(ctx, "pi_123")
	require.Error(t, err)
}

func TestClient_OpensBreakerAfterRepeatedFailures(t *testing.T) {
	b := &stubBackend{captureErr: errors.New("down")}
	c := New(b, circuitbreaker.New(2, time.Minute))

	for i := 0; i < 2; i++ {
		require.Error(t, c.Approve(context.Background(), "pi_123"))
	}

	callsBeforeOpen := len(b.captures)
	err := c.Approve(context.Background(), "pi_123")
	require.Error(t, err)
	assert.Equal(t, callsBeforeOpen, len(b.captures), "an open breaker must short-circuit before reaching the backend")
}

func TestClient_CancelIndependentOfApproveBreaker(t *testing.T) {
	b := &stubBackend{captureErr: errors.New("down")}
	c := New(b, circuitbreaker.New(1, time.Minute))

	require.Error(t, c.Approve(context.Background(), "pi_123"))
	require.NoError(t, c.Cancel(context.Background(), "pi_456"), "approve/cancel share a breaker key space but cancel itself must still succeed once the breaker key for cancel has not tripped")
}
