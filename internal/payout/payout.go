// Package payout defines the PayoutIntent, the unit the governance pipeline
// decides upon, and the explicit parser that constructs one from an inbound
// payment-backend webhook body.
//
// The parser decodes into fixed structs rather than coercing whatever JSON
// shape arrives, and rejects a payout whose required fields are missing or
// invalid. Entries of the payout object's annotations map are kept in
// Intent.Annotations; other fields of the payout object that webhookPayout
// does not declare are ignored and not kept.
package payout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mbd888/govfire/internal/validation"
)

// Intent is the input unit to the governance pipeline. Immutable once
// constructed.
type Intent struct {
	PayoutID    string            `json:"payoutId"`
	AgentID     string            `json:"agentId"`
	Amount      int64             `json:"amount"` // integer minor currency units
	Currency    string            `json:"currency"`
	VendorName  string            `json:"vendorName,omitempty"`
	VendorURL   string            `json:"vendorUrl,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
	ReceivedAt  time.Time         `json:"receivedAt"`
}

// Validate enforces the invariants from spec §3: amount > 0, currency is a
// three-letter code, payout_id is non-empty.
func (i Intent) Validate() error {
	if i.PayoutID == "" {
		return fmt.Errorf("payout: payoutId is required")
	}
	if i.AgentID == "" {
		return fmt.Errorf("payout: agentId is required")
	}
	if i.Amount <= 0 {
		return fmt.Errorf("payout: amount must be > 0, got %d", i.Amount)
	}
	if len(i.Currency) != 3 {
		return fmt.Errorf("payout: currency must be a three-letter code, got %q", i.Currency)
	}
	if len(i.VendorName) > validation.MaxStringLength {
		return fmt.Errorf("payout: vendorName exceeds %d characters", validation.MaxStringLength)
	}
	if len(i.VendorURL) > validation.MaxStringLength {
		return fmt.Errorf("payout: vendorUrl exceeds %d characters", validation.MaxStringLength)
	}
	return nil
}

// webhookEnvelope is the wrapper event format the payment backend sends
// (spec §6's "payment-backend push format").
type webhookEnvelope struct {
	EventType string          `json:"eventType"`
	Payout    json.RawMessage `json:"payout"`
}

// webhookPayout is the inner payout object. json.Unmarshal ignores fields
// this struct does not declare, so they are dropped; caller-supplied extras
// reach the Intent only through the annotations map (agentId and vendorUrl
// are promoted out of it into their own Intent fields).
type webhookPayout struct {
	ID          string            `json:"id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	VendorName  string            `json:"vendorName,omitempty"`
	Annotations map[string]string `json:"annotations"`
}

// ActionableEventType is the only event type the core acts on; all others
// are acknowledged (HTTP 200) but not submitted to the governance engine.
const ActionableEventType = "payout.queued"

// ParseWebhookBody parses a verified push-ingress body into an Intent.
// Returns (nil, nil) for event types other than ActionableEventType — the
// caller should acknowledge and stop, not submit to governance.
func ParseWebhookBody(body []byte, receivedAt time.Time) (*Intent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("payout: malformed webhook envelope: %w", err)
	}
	if env.EventType != ActionableEventType {
		return nil, nil
	}
	return ParsePayoutObject(env.Payout, receivedAt)
}

// ParsePayoutObject parses a single payout object — the same shape carried
// inside a push webhook's envelope — into an Intent. Shared by
// ParseWebhookBody and the pull-mode lister, which receives a bare list of
// these objects with no enclosing envelope.
func ParsePayoutObject(raw json.RawMessage, receivedAt time.Time) (*Intent, error) {
	var wp webhookPayout
	if err := json.Unmarshal(raw, &wp); err != nil {
		return nil, fmt.Errorf("payout: malformed payout object: %w", err)
	}

	agentID, ok := wp.Annotations["agentId"]
	if !ok || agentID == "" {
		return nil, fmt.Errorf("payout: annotations.agentId is required")
	}

	annotations := make(map[string]string, len(wp.Annotations))
	for k, v := range wp.Annotations {
		if k == "agentId" || k == "vendorUrl" {
			continue
		}
		annotations[k] = v
	}

	intent := &Intent{
		PayoutID:    wp.ID,
		AgentID:     agentID,
		Amount:      wp.Amount,
		Currency:    wp.Currency,
		VendorName:  wp.VendorName,
		VendorURL:   wp.Annotations["vendorUrl"],
		Annotations: annotations,
		ReceivedAt:  receivedAt,
	}

	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}
