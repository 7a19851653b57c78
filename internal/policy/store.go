package policy

import "context"

// Store persists AgentPolicy records (spec §4.3).
type Store interface {
	// Get returns the policy for agentID, or ErrPolicyNotFound if none is
	// configured — a valid outcome signalling "no governance configured
	// for this agent."
	Get(ctx context.Context, agentID string) (*AgentPolicy, error)
	// Upsert creates or replaces the policy for p.AgentID.
	Upsert(ctx context.Context, p *AgentPolicy) error
}
