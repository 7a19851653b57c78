// Package reputation implements the vendor-URL threat lookup (C6, spec
// §4.6): a breaker-wrapped external call, cached with a short TTL, that
// fails closed on infrastructure error but distinguishes that from a real
// "unsafe" verdict so the governance engine can surface the right reason
// code.
package reputation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/mbd888/govfire/internal/circuitbreaker"
	"github.com/mbd888/govfire/internal/metrics"
)

// CacheTTL is the upper bound on how long a fresh verdict is reused, per
// spec §3 ("evicted on cache TTL expiry, ≤ 5 minutes"). The backend may
// return a shorter TTL per lookup; Evaluate never honors a longer one.
const CacheTTL = 5 * time.Minute

// CallTimeout is the recommended external-call deadline from spec §5.
const CallTimeout = 2 * time.Second

// Outcome classifies how a Verdict was produced, driving both the
// ReputationLookupsTotal metric label and the reason code the governance
// engine attaches on rejection.
type Outcome string

const (
	OutcomeSafe         Outcome = "safe"
	OutcomeUnsafe       Outcome = "unsafe"
	OutcomeInfraFailure Outcome = "infra_failure"
	OutcomeCached       Outcome = "cached"
)

// Verdict is a threat-intel result (spec §3's ReputationVerdict).
type Verdict struct {
	URL        string
	Safe       bool
	ThreatTags []string
	Outcome    Outcome

	// CacheTTL is the service-supplied duration this verdict may be reused
	// for, already bounded to CacheTTL by lookup. Zero on a fail-closed
	// verdict, which is never cached regardless.
	CacheTTL time.Duration
}

// InfraFailureTag is the synthetic threat tag attached to a fail-closed
// verdict produced by a timeout, transport error, or open breaker — per
// spec §4.6 this must be distinguishable from a real threat-intel match so
// audit records and operator dashboards never confuse the two.
const InfraFailureTag = "infrastructure_failure"

type cacheEntry struct {
	verdict   Verdict
	fetchedAt time.Time
	ttl       time.Duration
}

func (e *cacheEntry) expired() bool {
	return time.Since(e.fetchedAt) > e.ttl
}

// Client is the breaker-wrapped threat-intel HTTP client.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *circuitbreaker.Breaker

	mu    sync.RWMutex
	cache map[string]*cacheEntry
}

// New constructs a Client. baseURL is the threat-intel service endpoint;
// breaker should be dedicated to this collaborator (not shared with C7 or
// payment-action) so an outage in one external dependency does not trip
// the others.
func New(baseURL, apiKey string, breaker *circuitbreaker.Breaker) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: CallTimeout},
		breaker: breaker,
		cache:   make(map[string]*cacheEntry),
	}
}

func cacheKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Evaluate returns a threat verdict for vendorURL. A fresh cached entry is
// reused without calling out. Per spec §4.6, a timeout, transport error, or
// open breaker fails closed: Evaluate returns Safe=false with
// InfraFailureTag rather than an error, so the governance engine's
// RISK_HIGH rejection path is the only code path for "unsafe", whether the
// cause was a real threat-intel match or an unreachable backend. The
// fail-closed result is never cached — caching it would let a transient
// outage silently waive screening for the full CacheTTL window.
func (c *Client) Evaluate(ctx context.Context, vendorURL string) (Verdict, error) {
	key := cacheKey(vendorURL)

	c.mu.RLock()
	entry, ok := c.cache[key]
	if ok && !entry.expired() {
		c.mu.RUnlock()
		v := entry.verdict
		v.Outcome = OutcomeCached
		metrics.ReputationLookupsTotal.WithLabelValues(string(OutcomeCached)).Inc()
		return v, nil
	}
	c.mu.RUnlock()

	verdict, err := circuitbreaker.Call(c.breaker, ctx, "reputation", func(ctx context.Context) (Verdict, error) {
		return c.lookup(ctx, vendorURL)
	})
	if err != nil {
		metrics.ReputationLookupsTotal.WithLabelValues(string(OutcomeInfraFailure)).Inc()
		return Verdict{
			URL:        vendorURL,
			Safe:       false,
			ThreatTags: []string{InfraFailureTag},
			Outcome:    OutcomeInfraFailure,
		}, nil
	}

	ttl := verdict.CacheTTL
	if ttl <= 0 || ttl > CacheTTL {
		ttl = CacheTTL
	}
	c.mu.Lock()
	c.cache[key] = &cacheEntry{verdict: verdict, fetchedAt: time.Now(), ttl: ttl}
	c.mu.Unlock()

	outcome := OutcomeSafe
	if !verdict.Safe {
		outcome = OutcomeUnsafe
	}
	metrics.ReputationLookupsTotal.WithLabelValues(string(outcome)).Inc()
	return verdict, nil
}

// SweepCache removes expired entries. Returns the number removed.
func (c *Client) SweepCache() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, entry := range c.cache {
		if entry.expired() {
			delete(c.cache, k)
			removed++
		}
	}
	return removed
}
