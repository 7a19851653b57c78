package policy

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists AgentPolicy records in PostgreSQL, parameterized
// throughout ($N placeholders, no string concatenation per spec §4.3).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, agentID string) (*AgentPolicy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT agent_id, daily_cap, per_txn_cap, approval_threshold, allowed_domains, blocked_domains, created_at, updated_at
		FROM agent_policies WHERE agent_id = $1`, agentID)
	return scanPolicy(row)
}

func (s *PostgresStore) Upsert(ctx context.Context, p *AgentPolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	// The domain columns are NOT NULL and pq.Array(nil) sends NULL, so an
	// absent list is stored as an empty array.
	allowed, blocked := p.AllowedDomains, p.BlockedDomains
	if allowed == nil {
		allowed = []string{}
	}
	if blocked == nil {
		blocked = []string{}
	}

	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_policies (agent_id, daily_cap, per_txn_cap, approval_threshold, allowed_domains, blocked_domains, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (agent_id) DO UPDATE SET
			daily_cap = EXCLUDED.daily_cap,
			per_txn_cap = EXCLUDED.per_txn_cap,
			approval_threshold = EXCLUDED.approval_threshold,
			allowed_domains = EXCLUDED.allowed_domains,
			blocked_domains = EXCLUDED.blocked_domains,
			updated_at = EXCLUDED.updated_at`,
		p.AgentID, p.DailyCap, p.PerTxnCap, p.ApprovalThreshold,
		pq.Array(allowed), pq.Array(blocked), now,
	)
	if err != nil {
		return fmt.Errorf("policy: upsert %s: %w", p.AgentID, err)
	}
	return nil
}

func scanPolicy(row *sql.Row) (*AgentPolicy, error) {
	p := &AgentPolicy{}
	var allowed, blocked []string
	err := row.Scan(&p.AgentID, &p.DailyCap, &p.PerTxnCap, &p.ApprovalThreshold,
		pq.Array(&allowed), pq.Array(&blocked), &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, err
	}
	p.AllowedDomains = allowed
	p.BlockedDomains = blocked
	return p, nil
}

// Migrate creates the agent_policies table if it doesn't exist. Kept for
// parity with the teacher's store-owns-its-DDL convention; production
// deployments should prefer the goose migration in migrations/.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS agent_policies (
			agent_id           TEXT PRIMARY KEY,
			daily_cap          BIGINT NOT NULL DEFAULT 0,
			per_txn_cap        BIGINT NOT NULL DEFAULT 0,
			approval_threshold BIGINT NOT NULL DEFAULT 0,
			allowed_domains    TEXT[] NOT NULL DEFAULT '{}',
			blocked_domains    TEXT[] NOT NULL DEFAULT '{}',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

var _ Store = (*PostgresStore)(nil)
