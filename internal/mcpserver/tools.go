package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the firewall's MCP surface. Descriptions are what
// the LLM reads to decide which tool to use.

var ToolSubmitIntent = mcp.NewTool("submit_intent",
	mcp.WithDescription(
		"Submit a payout intent to the governance firewall for evaluation. "+
			"The firewall checks it against the agent's policy (daily cap, "+
			"per-transaction cap, vendor allow/block list), reserves against the "+
			"daily budget, screens the vendor's reputation, and returns a "+
			"decision: APPROVED, REJECTED, or HELD pending human review. Use "+
			"get_budget first if you need to know how much headroom remains "+
			"before submitting."),
	mcp.WithString("payout_id",
		mcp.Required(),
		mcp.Description("A unique ID for this payout; resubmitting the same ID is a no-op, not a double-spend")),
	mcp.WithString("amount",
		mcp.Required(),
		mcp.Description("Amount to pay, as an integer in minor currency units (e.g. '500' for $5.00)")),
	mcp.WithString("currency",
		mcp.Required(),
		mcp.Description("Three-letter currency code, e.g. 'USD'")),
	mcp.WithString("vendor_name",
		mcp.Description("Human-readable name of the payee")),
	mcp.WithString("vendor_url",
		mcp.Description("The payee's URL, screened against the agent's domain policy and threat-intel reputation")),
)

var ToolGetBudget = mcp.NewTool("get_budget",
	mcp.WithDescription(
		"Check the calling agent's remaining daily spend budget before "+
			"submitting a payout intent."),
)
