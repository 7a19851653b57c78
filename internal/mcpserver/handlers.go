package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *FirewallClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *FirewallClient) *Handlers {
	return &Handlers{client: client}
}

// HandleSubmitIntent submits a payout intent to the firewall and reports
// back the governance decision.
func (h *Handlers) HandleSubmitIntent(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	payoutID := req.GetString("payout_id", "")
	amount := req.GetString("amount", "")
	currency := req.GetString("currency", "")
	if payoutID == "" || amount == "" || currency == "" {
		return mcp.NewToolResultError("payout_id, amount, and currency are required"), nil
	}
	vendorName := req.GetString("vendor_name", "")
	vendorURL := req.GetString("vendor_url", "")

	raw, err := h.client.SubmitIntent(ctx, payoutID, amount, currency, vendorName, vendorURL)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit_intent failed: %v", err)), nil
	}

	text, err := formatDecision(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to parse decision: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetBudget reports the calling agent's remaining daily budget.
func (h *Handlers) HandleGetBudget(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.GetBudget(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get_budget failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(raw)), nil
}

func formatDecision(raw json.RawMessage) (string, error) {
	var d struct {
		PayoutID     string   `json:"PayoutID"`
		Kind         string   `json:"Kind"`
		ReasonCode   string   `json:"ReasonCode"`
		ReasonDetail string   `json:"ReasonDetail"`
		ThreatTags   []string `json:"ThreatTags"`
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return "", err
	}

	msg := fmt.Sprintf("Payout %s: %s (%s)", d.PayoutID, d.Kind, d.ReasonCode)
	if d.ReasonDetail != "" {
		msg += "\n" + d.ReasonDetail
	}
	if len(d.ThreatTags) > 0 {
		msg += fmt.Sprintf("\nThreat tags: %v", d.ThreatTags)
	}
	switch d.Kind {
	case "HELD":
		msg += "\n\nThis payout is on hold pending human review; it will not be paid until an operator resolves it."
	case "REJECTED":
		msg += "\n\nThis payout was rejected and will not be paid."
	}
	return msg, nil
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
