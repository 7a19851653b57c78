// Command mcp exposes the governance firewall's agent-facing surface
// (submit_intent, get_budget) as MCP tools for LLM agents.
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/govfire/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:  envOrDefault("GOVFIRE_API_URL", "http://localhost:8080"),
		Secret:  os.Getenv("GOVFIRE_ADMIN_SECRET"),
		AgentID: os.Getenv("GOVFIRE_AGENT_ID"),
	}

	if cfg.Secret == "" {
		fmt.Fprintln(os.Stderr, "GOVFIRE_ADMIN_SECRET is required")
		os.Exit(1)
	}
	if cfg.AgentID == "" {
		fmt.Fprintln(os.Stderr, "GOVFIRE_AGENT_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
