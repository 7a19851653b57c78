package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the firewall's admin
// surface (spec §6).
type Config struct {
	APIURL  string // Base URL of the firewall, e.g. "http://localhost:8080"
	Secret  string // X-Admin-Secret, shared with cfg.AdminSecret
	AgentID string // the agent this MCP session submits intents on behalf of
}

// FirewallClient is a pure HTTP client over the firewall's admin/query
// surface, scoped to what an agent-facing MCP session needs: submitting a
// payout intent and reading back its own budget.
type FirewallClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewFirewallClient creates a new client for the firewall's admin API.
func NewFirewallClient(cfg Config) *FirewallClient {
	return &FirewallClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the firewall.
type apiError struct {
	Error string `json:"error"`
}

func (c *FirewallClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Admin-Secret", c.cfg.Secret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("firewall error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return nil, fmt.Errorf("firewall error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// submitIntentRequest mirrors payout.Intent's wire shape; duplicated here
// rather than imported so the MCP client stays a pure HTTP caller with no
// dependency on the firewall's internal packages.
type submitIntentRequest struct {
	PayoutID   string `json:"payoutId"`
	AgentID    string `json:"agentId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	VendorName string `json:"vendorName,omitempty"`
	VendorURL  string `json:"vendorUrl,omitempty"`
}

// SubmitIntent posts a payout intent to POST /admin/intents and returns the
// raw governance.Decision JSON.
func (c *FirewallClient) SubmitIntent(ctx context.Context, payoutID, amount, currency, vendorName, vendorURL string) (json.RawMessage, error) {
	amt, err := parseMinorUnits(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	body := submitIntentRequest{
		PayoutID:   payoutID,
		AgentID:    c.cfg.AgentID,
		Amount:     amt,
		Currency:   currency,
		VendorName: vendorName,
		VendorURL:  vendorURL,
	}
	return c.doRequest(ctx, http.MethodPost, "/admin/intents", body)
}

// GetBudget returns the calling agent's remaining daily budget.
func (c *FirewallClient) GetBudget(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/admin/budget/"+c.cfg.AgentID, nil)
}

func parseMinorUnits(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("amount must be a positive integer in minor currency units")
	}
	return n, nil
}
