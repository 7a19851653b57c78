package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govfire/internal/circuitbreaker"
)

type stubProvider struct {
	att   Attestation
	err   error
	delay time.Duration
	calls int
}

func (s *stubProvider) Lookup(ctx context.Context, agentID, vendorName string) (Attestation, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Attestation{}, ctx.Err()
		}
	}
	return s.att, s.err
}

func TestVerifier_VerifySuccess(t *testing.T) {
	p := &stubProvider{att: Attestation{Verified: true, LegalName: "Acme Inc", Status: StatusVerified}}
	v := New(p, circuitbreaker.New(3, 50*time.Millisecond))

	att, err := v.Verify(context.Background(), "agent-1", "Acme Inc")
	require.NoError(t, err)
	assert.True(t, att.Verified)
	assert.Equal(t, StatusVerified, att.Status)
}

func TestVerifier_TransportErrorReturnsErrUnavailable(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}
	v := New(p, circuitbreaker.New(3, 50*time.Millisecond))

	_, err := v.Verify(context.Background(), "agent-1", "Acme Inc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestVerifier_TimeoutReturnsErrUnavailable(t *testing.T) {
	p := &stubProvider{delay: CallTimeout * 3, att: Attestation{Verified: true}}
	v := New(p, circuitbreaker.New(3, 50*time.Millisecond))

	start := time.Now()
	_, err := v.Verify(context.Background(), "agent-1", "Acme Inc")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Less(t, elapsed, CallTimeout*2, "Verify must bound the call to its own short timeout, not the caller's context")
}

func TestVerifier_OpensBreakerAfterRepeatedFailures(t *testing.T) {
	p := &stubProvider{err: errors.New("boom")}
	v := New(p, circuitbreaker.New(2, time.Minute))

	for i := 0; i < 2; i++ {
		_, err := v.Verify(context.Background(), "agent-1", "Acme Inc")
		require.Error(t, err)
	}

	callsBeforeOpen := p.calls
	_, err := v.Verify(context.Background(), "agent-1", "Acme Inc")
	require.Error(t, err)
	assert.Equal(t, callsBeforeOpen, p.calls, "an open breaker must short-circuit before reaching the provider")
}
