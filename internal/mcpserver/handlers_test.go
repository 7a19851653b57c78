package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toolRequest(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func TestHandleSubmitIntent_ReportsApproved(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/intents", r.URL.Path)
		assert.Equal(t, "s3cr3t", r.Header.Get("X-Admin-Secret"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"PayoutID": "p1", "Kind": "APPROVED", "ReasonCode": "POLICY_OK",
		})
	}))
	defer srv.Close()

	h := NewHandlers(NewFirewallClient(Config{APIURL: srv.URL, Secret: "s3cr3t", AgentID: "agent-1"}))
	result, err := h.HandleSubmitIntent(context.Background(), toolRequest(map[string]any{
		"payout_id": "p1", "amount": "500", "currency": "USD",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
}

func TestHandleSubmitIntent_RequiresFields(t *testing.T) {
	h := NewHandlers(NewFirewallClient(Config{APIURL: "http://unused"}))
	result, err := h.HandleSubmitIntent(context.Background(), toolRequest(map[string]any{"amount": "500"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleSubmitIntent_RejectsInvalidAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach the firewall with an invalid amount")
	}))
	defer srv.Close()

	h := NewHandlers(NewFirewallClient(Config{APIURL: srv.URL, Secret: "s3cr3t", AgentID: "agent-1"}))
	result, err := h.HandleSubmitIntent(context.Background(), toolRequest(map[string]any{
		"payout_id": "p1", "amount": "not-a-number", "currency": "USD",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetBudget_FormatsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/budget/agent-1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"agentId": "agent-1", "cap": 5000, "spent": 100, "remaining": 4900})
	}))
	defer srv.Close()

	h := NewHandlers(NewFirewallClient(Config{APIURL: srv.URL, Secret: "s3cr3t", AgentID: "agent-1"}))
	result, err := h.HandleGetBudget(context.Background(), toolRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
}
