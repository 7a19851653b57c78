package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mbd888/govfire/internal/metrics"
)

// CombinedSink commits to a durable primary, falling back to a local file
// when the primary fails. If both fail, Commit returns ErrCommitFailed
// wrapping both underlying errors — the sink never swallows a write.
type CombinedSink struct {
	primary  Sink
	fallback Sink
}

// NewCombinedSink wires a durable primary with a local fallback. primary
// may be nil (in-memory/dev mode), in which case every commit goes to the
// fallback sink directly.
func NewCombinedSink(primary, fallback Sink) *CombinedSink {
	return &CombinedSink{primary: primary, fallback: fallback}
}

func (c *CombinedSink) Commit(ctx context.Context, r *Record) error {
	if c.primary != nil {
		if err := c.primary.Commit(ctx, r); err == nil {
			return nil
		} else {
			slog.Error("audit: primary sink commit failed, falling back", "payout_id", r.PayoutID, "error", err)
			if fbErr := c.fallback.Commit(ctx, r); fbErr != nil {
				return errors.Join(ErrCommitFailed, err, fbErr)
			}
			metrics.AuditFallbackWritesTotal.Inc()
			return nil
		}
	}

	if err := c.fallback.Commit(ctx, r); err != nil {
		return errors.Join(ErrCommitFailed, err)
	}
	metrics.AuditFallbackWritesTotal.Inc()
	return nil
}

// Query proxies to the primary sink, which is the only queryable backend;
// the local fallback file is a write-ahead safety net for outages, not a
// source for get_audit reads.
func (c *CombinedSink) Query(ctx context.Context, f Filter) (*Page, error) {
	if c.primary == nil {
		return nil, errors.New("audit: no queryable primary sink configured")
	}
	return c.primary.Query(ctx, f)
}

func (c *CombinedSink) Close() error {
	var err error
	if c.primary != nil {
		err = errors.Join(err, c.primary.Close())
	}
	err = errors.Join(err, c.fallback.Close())
	return err
}

var _ Sink = (*CombinedSink)(nil)
