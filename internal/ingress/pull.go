package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbd888/govfire/internal/payout"
	"github.com/mbd888/govfire/internal/retry"
)

// Lister queries the payment backend for intents in a queued state (spec
// §6's pull contract). Implemented against the real backend by HTTPLister;
// swappable for a stub in tests.
type Lister interface {
	ListQueued(ctx context.Context) ([]payout.Intent, error)
}

// HTTPLister lists queued payouts from the payment backend's REST API.
type HTTPLister struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPLister constructs an HTTPLister. client defaults to a 10s-timeout
// http.Client if nil.
func NewHTTPLister(baseURL, apiKey string, client *http.Client) *HTTPLister {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPLister{baseURL: baseURL, apiKey: apiKey, http: client}
}

type listResponse struct {
	Payouts []json.RawMessage `json:"payouts"`
}

// ListQueued lists queued payouts. A 4xx response is wrapped in
// retry.Permanent — the request itself is malformed or unauthorized and
// retrying it unchanged cannot help. A 5xx or transport-level failure is
// returned plain, so retry.Do backs off and retries it.
func (l *HTTPLister) ListQueued(ctx context.Context) ([]payout.Intent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/v1/payouts?status=queued", nil)
	if err != nil {
		return nil, err
	}
	if l.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.apiKey)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		listErr := fmt.Errorf("ingress: list queued payouts: status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.Permanent(listErr)
		}
		return nil, listErr
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("ingress: decode queued payouts: %w", err)
	}

	now := time.Now()
	intents := make([]payout.Intent, 0, len(lr.Payouts))
	for _, raw := range lr.Payouts {
		intent, err := payout.ParsePayoutObject(raw, now)
		if err != nil {
			return nil, fmt.Errorf("ingress: malformed queued payout: %w", err)
		}
		intents = append(intents, *intent)
	}
	return intents, nil
}

// pullMaxAttempts bounds the retries a single tick's listing call gets
// before the loop gives up and waits for the next tick.
const pullMaxAttempts = 5

// PullLoop periodically lists queued payouts and submits each to the
// Adapter. Each tick's listing call runs through retry.Do: a 4xx is
// permanent and fails the tick immediately, a 5xx or transport error is
// retried with bounded exponential backoff before the loop falls back to
// its regular polling interval (spec §4.10, §6's pull contract). It
// observes ctx cancellation both between ticks and during backoff sleeps.
type PullLoop struct {
	lister   Lister
	adapter  *Adapter
	interval time.Duration
	logger   *slog.Logger
}

// NewPullLoop constructs a PullLoop polling at interval.
func NewPullLoop(lister Lister, adapter *Adapter, interval time.Duration, logger *slog.Logger) *PullLoop {
	return &PullLoop{lister: lister, adapter: adapter, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled, polling at p.interval.
func (p *PullLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var intents []payout.Intent
		var permanent bool
		err := retry.Do(ctx, pullMaxAttempts, p.interval, func() error {
			var err error
			intents, err = p.lister.ListQueued(ctx)
			var pe *retry.PermanentError
			permanent = errors.As(err, &pe)
			return err
		})
		if err != nil {
			if permanent {
				p.logger.Error("ingress: pull listing rejected, not retriable", "error", err)
			} else {
				p.logger.Error("ingress: pull listing failed after retries", "error", err)
			}
			continue
		}

		for _, intent := range intents {
			if _, err := p.adapter.Submit(ctx, intent); err != nil {
				if errors.Is(err, ErrBackpressure) {
					p.logger.Warn("ingress: in-flight limit reached, ending tick early", "payout_id", intent.PayoutID)
					break
				}
				p.logger.Error("ingress: pull submit failed", "payout_id", intent.PayoutID, "error", err)
			}
		}
	}
}
