package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server exposing the firewall's
// agent-facing surface: submit a payout intent, check remaining budget.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("govfire", "1.0.0")
	client := NewFirewallClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolSubmitIntent, h.HandleSubmitIntent)
	s.AddTool(ToolGetBudget, h.HandleGetBudget)

	return s
}
