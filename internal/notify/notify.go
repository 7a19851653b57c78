// Package notify implements the governance.Notifier capability: pushing a
// single signed HTTP callback to the operator's configured sink whenever a
// payout is HELD for human approval (spec §4.9 step 8). Unlike the teacher's
// webhooks.Dispatcher, which fans a single event out to many agent-owned
// subscriptions, this package has exactly one destination — the operator's
// own approval-queue endpoint — so there is no subscription store and no
// per-destination concurrency limiter; delivery is a small bounded retry
// run inline by the caller, never a background goroutine, because a HELD
// notification failure must be visible to the governance cycle's log line
// before Submit returns.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mbd888/govfire/internal/metrics"
	"github.com/mbd888/govfire/internal/payout"
)

// CallTimeout bounds a single delivery attempt.
const CallTimeout = 3 * time.Second

// MaxAttempts caps retries on a 5xx/transport failure. 4xx responses are
// never retried — the operator endpoint rejected the payload outright.
const MaxAttempts = 3

// BaseDelay is the initial backoff between retries, doubling per attempt.
const BaseDelay = 500 * time.Millisecond

// heldPayload is the JSON body posted to the operator sink.
type heldPayload struct {
	PayoutID  string    `json:"payoutId"`
	AgentID   string    `json:"agentId"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	Vendor    string    `json:"vendorName,omitempty"`
	Detail    string    `json:"detail"`
	HeldAt    time.Time `json:"heldAt"`
	Timestamp int64     `json:"timestamp"`
}

// Client posts HELD notifications to a single operator-configured sink URL,
// HMAC-signed the same way the teacher signs outbound webhook deliveries.
type Client struct {
	url    string
	secret string
	http   *http.Client
}

// New constructs a Client. client defaults to a dedicated short-timeout
// http.Client if nil.
func New(url, secret string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: CallTimeout}
	}
	return &Client{url: url, secret: secret, http: client}
}

// NotifyHeld posts a single HELD-decision callback. Advisory only: the
// governance engine logs but never acts on a returned error.
func (c *Client) NotifyHeld(ctx context.Context, intent payout.Intent, detail string) error {
	if c.url == "" {
		return nil
	}

	body, err := json.Marshal(heldPayload{
		PayoutID:  intent.PayoutID,
		AgentID:   intent.AgentID,
		Amount:    intent.Amount,
		Currency:  intent.Currency,
		Vendor:    intent.VendorName,
		Detail:    detail,
		HeldAt:    intent.ReceivedAt,
		Timestamp: intent.ReceivedAt.Unix(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal held payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := BaseDelay * (1 << (attempt - 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("notify: %w", ctx.Err())
			}
		}

		result, retryable, err := c.attempt(ctx, body)
		metrics.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return fmt.Errorf("notify: held callback to %s: %w", c.url, lastErr)
}

func (c *Client) attempt(ctx context.Context, body []byte) (result string, retryable bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "error", false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Govfire-Signature", c.sign(body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "error", true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return "ok", false, nil
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "rejected", false, fmt.Errorf("status %d", resp.StatusCode)
	}
	return "error", true, fmt.Errorf("status %d", resp.StatusCode)
}

func (c *Client) sign(payload []byte) string {
	h := hmac.New(sha256.New, []byte(c.secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
