package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/mbd888/govfire/internal/pagination"
)

// auditColumns is the explicit column list used by every SELECT, kept as a
// single constant so inserts/selects/scans never drift out of sync.
const auditColumns = `payout_id, agent_id, amount, currency, vendor_name, vendor_url,
	decision, reason_code, reason_detail, threat_tags, processing_ms, detail, committed_at`

// PostgresSink is the durable primary audit sink.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an existing database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Commit inserts r. The unique index on payout_id means a duplicate commit
// attempt (e.g. a retried decision cycle) fails loudly rather than silently
// overwriting an immutable record.
func (p *PostgresSink) Commit(ctx context.Context, r *Record) error {
	if r.CommittedAt.IsZero() {
		r.CommittedAt = time.Now()
	}
	detailJSON, err := json.Marshal(r.Detail)
	if err != nil {
		return fmt.Errorf("audit: marshal detail: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO audit_logs (`+auditColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.PayoutID, r.AgentID, r.Amount, r.Currency, nullString(r.VendorName), nullString(r.VendorURL),
		r.Decision, r.ReasonCode, nullString(r.ReasonDetail), pq.Array(r.ThreatTags), r.ProcessingMs,
		detailJSON, r.CommittedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("audit: duplicate commit for payout %s: %w", r.PayoutID, err)
		}
		return fmt.Errorf("audit: commit %s: %w", r.PayoutID, err)
	}
	return nil
}

// Query returns a cursor-paginated slice of records matching f.
func (p *PostgresSink) Query(ctx context.Context, f Filter) (*Page, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var where []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.AgentID != "" {
		where = append(where, "agent_id = "+arg(f.AgentID))
	}
	if f.Decision != "" {
		where = append(where, "decision = "+arg(f.Decision))
	}
	if !f.Since.IsZero() {
		where = append(where, "committed_at >= "+arg(f.Since))
	}
	if !f.Until.IsZero() {
		where = append(where, "committed_at <= "+arg(f.Until))
	}
	if cursor, err := pagination.Decode(f.Cursor); err != nil {
		return nil, fmt.Errorf("audit: invalid cursor: %w", err)
	} else if cursor != nil {
		where = append(where, fmt.Sprintf("(committed_at, payout_id) < (%s, %s)", arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	query := `SELECT ` + auditColumns + ` FROM audit_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY committed_at DESC, payout_id DESC LIMIT %d", limit+1)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanAuditRow(rows)
		if err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	trimmed, next, hasMore := pagination.ComputePage(records, limit, func(r *Record) (time.Time, string) {
		return r.CommittedAt, r.PayoutID
	})
	return &Page{Records: trimmed, NextCursor: next, HasMore: hasMore}, nil
}

func (p *PostgresSink) Close() error {
	return nil
}

// scanner abstracts over *sql.Row and *sql.Rows so the scan routine is not
// tied to one of them; Query's row iteration is its caller.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuditRow(s scanner) (*Record, error) {
	r := &Record{}
	var vendorName, vendorURL, reasonDetail sql.NullString
	var threatTags []string
	var detailJSON []byte

	err := s.Scan(&r.PayoutID, &r.AgentID, &r.Amount, &r.Currency, &vendorName, &vendorURL,
		&r.Decision, &r.ReasonCode, &reasonDetail, pq.Array(&threatTags), &r.ProcessingMs,
		&detailJSON, &r.CommittedAt)
	if err != nil {
		return nil, err
	}

	r.VendorName = vendorName.String
	r.VendorURL = vendorURL.String
	r.ReasonDetail = reasonDetail.String
	r.ThreatTags = threatTags

	if len(detailJSON) > 0 {
		if err := json.Unmarshal(detailJSON, &r.Detail); err != nil {
			return nil, fmt.Errorf("corrupt detail for payout %s: %w", r.PayoutID, err)
		}
	}
	return r, nil
}

// nullString converts an empty string to sql.NullString{Valid: false}, so
// optional text columns store SQL NULL rather than an empty string.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
