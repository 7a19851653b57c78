package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScorer_BelowMinSamplesReturnsUntrained(t *testing.T) {
	s := New(2)
	defer s.Close()

	for i := 0; i < MinSamples-1; i++ {
		r := s.Score(context.Background(), "agent-1", 1000, time.Now())
		assert.False(t, r.ModelTrained)
		assert.Zero(t, r.RiskScore)
	}
}

func TestScorer_TrainsAfterMinSamples(t *testing.T) {
	s := New(2)
	defer s.Close()

	var last Result
	for i := 0; i < MinSamples+1; i++ {
		last = s.Score(context.Background(), "agent-1", 1000, time.Now())
	}
	assert.True(t, last.ModelTrained)
}

func TestScorer_LargeDeviationScoresHigherThanConsistentSpend(t *testing.T) {
	s := New(2)
	defer s.Close()

	for i := 0; i < MinSamples+5; i++ {
		s.Score(context.Background(), "agent-1", 1000, time.Now())
	}

	consistent := s.Score(context.Background(), "agent-1", 1000, time.Now())
	spike := s.Score(context.Background(), "agent-1", 10_000_000, time.Now())

	assert.True(t, consistent.ModelTrained)
	assert.True(t, spike.ModelTrained)
	assert.Greater(t, spike.RiskScore, consistent.RiskScore)
}

func TestScorer_HistoryIsBoundedPerAgent(t *testing.T) {
	s := New(2)
	defer s.Close()

	for i := 0; i < MaxHistory+50; i++ {
		s.Score(context.Background(), "agent-1", 1000, time.Now())
	}

	h := s.historyFor("agent-1")
	h.mu.Lock()
	n := len(h.events)
	h.mu.Unlock()
	assert.LessOrEqual(t, n, MaxHistory)
}

func TestScorer_SeparatesHistoryPerAgent(t *testing.T) {
	s := New(2)
	defer s.Close()

	for i := 0; i < MinSamples+1; i++ {
		s.Score(context.Background(), "agent-1", 1000, time.Now())
	}

	// agent-2 has no history yet, must still be untrained regardless of
	// agent-1's activity.
	r := s.Score(context.Background(), "agent-2", 1000, time.Now())
	assert.False(t, r.ModelTrained)
}

func TestScorer_ExpiredContextReturnsNeutralResult(t *testing.T) {
	s := New(1)
	defer s.Close()

	// Score with a context that has already expired. This asserts the
	// neutral-Result, no-panic contract of the early-return paths; it does
	// not fill the job queue, since forcing a full-queue race would be
	// flaky under -race.
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	r := s.Score(ctx, "agent-3", 1000, time.Now())
	assert.False(t, r.ModelTrained)
}

func TestFeatureScore_WeekendScoresHigherThanWeekday(t *testing.T) {
	weekday := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC) // a Tuesday
	weekend := time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC) // a Saturday

	assert.Greater(t, featureScore(0, weekend), featureScore(0, weekday))
}
