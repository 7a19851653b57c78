// Package identity implements the advisory identity verifier (C7, spec
// §4.7): a breaker-wrapped, short-timeout lookup that enriches an audit
// record with KYB-style attestation but never itself gates a decision. A
// failure, timeout, or negative result here must never flip a decision from
// APPROVED to anything else — callers attach the result to
// AuditRecord.Detail, never to Decision.Kind.
package identity

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/govfire/internal/circuitbreaker"
)

// CallTimeout is the short external-call deadline from spec §4.7.
const CallTimeout = 1500 * time.Millisecond

// ErrUnavailable indicates the identity backend could not be reached in
// time. Callers must treat this as "no enrichment available", never as a
// reason to reject.
var ErrUnavailable = errors.New("identity: verifier unavailable")

// Status is the coarse attestation status an identity backend reports.
type Status string

const (
	StatusVerified   Status = "verified"
	StatusUnverified Status = "unverified"
	StatusUnknown    Status = "unknown"
)

// Attestation is the advisory enrichment result (spec §3's identity
// verification record). Never consulted by the decision matrix itself.
type Attestation struct {
	Verified     bool
	LegalName    string
	Jurisdiction string
	Status       Status
}

// Provider is the narrow capability the verifier needs from a backend,
// mirroring the teacher's ReputationProvider-style single-method interface
// so the concrete transport (HTTP, gRPC, a stub for tests) is swappable
// without touching the breaker/timeout wiring below.
type Provider interface {
	Lookup(ctx context.Context, agentID, vendorName string) (Attestation, error)
}

// Verifier wraps a Provider with a breaker and a short timeout, per spec
// §4.7 ("Wrapped in its own breaker with a short timeout").
type Verifier struct {
	provider Provider
	breaker  *circuitbreaker.Breaker
}

// New constructs a Verifier. breaker should be dedicated to this
// collaborator so an identity-backend outage cannot trip the reputation or
// payment-action breakers.
func New(provider Provider, breaker *circuitbreaker.Breaker) *Verifier {
	return &Verifier{provider: provider, breaker: breaker}
}

// Verify attempts to enrich agentID/vendorName with an identity
// attestation. On any failure (breaker open, timeout, transport error) it
// returns ErrUnavailable — advisory only, the caller proceeds without
// enrichment rather than failing the cycle.
func (v *Verifier) Verify(ctx context.Context, agentID, vendorName string) (Attestation, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	att, err := circuitbreaker.Call(v.breaker, ctx, "identity", func(ctx context.Context) (Attestation, error) {
		return v.provider.Lookup(ctx, agentID, vendorName)
	})
	if err != nil {
		return Attestation{Status: StatusUnknown}, errors.Join(ErrUnavailable, err)
	}
	return att, nil
}
