// Package anomaly implements the advisory anomaly scorer (C8, spec §4.8):
// a bounded per-agent history feeding a log-amount/hour-of-day/day-of-week/
// z-score feature vector, gated on a minimum sample count, scored on a
// worker pool so inference never blocks the governance cycle's goroutine.
package anomaly

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/mbd888/govfire/internal/metrics"
)

// MinSamples is the minimum history length before a model is trusted,
// per spec §4.8 ("e.g., 20 events"). Below this, Score returns a neutral
// result with ModelTrained=false.
const MinSamples = 20

// MaxHistory bounds the per-agent rolling window (spec §4.8 "most recent
// N transactions").
const MaxHistory = 500

// RetrainEvery is the bounded cadence at which a per-agent model is
// recomputed, rather than on every single event (spec §4.8 "invalidated/
// retrained on a bounded cadence").
const RetrainEvery = 5

// InferenceTimeout bounds how long the governance engine waits on the
// worker pool before defaulting to a neutral score (advisory, never
// blocks the cycle).
const InferenceTimeout = 250 * time.Millisecond

// Result is the advisory output of a score request (spec §3's risk_score).
type Result struct {
	RiskScore    float64
	Anomalous    bool
	ModelTrained bool
}

// AnomalousThreshold marks a risk score as anomalous for audit annotation
// purposes. This never gates a decision (spec §4.8, advisory only).
const AnomalousThreshold = 0.8

// event is one historical data point for an agent.
type event struct {
	amount    int64
	timestamp time.Time
}

// model is the cached per-agent mean/stddev of log-amounts, recomputed on
// RetrainEvery's cadence rather than per request.
type model struct {
	mean         float64
	stddev       float64
	sinceRetrain int
	trained      bool
}

// agentHistory holds one agent's bounded event window and cached model.
type agentHistory struct {
	mu     sync.Mutex
	events []event
	model  model
}

// Scorer maintains bounded per-agent histories and dispatches inference to
// a fixed worker pool.
type Scorer struct {
	mu        sync.Mutex
	agents    map[string]*agentHistory
	jobs      chan scoreJob
	workers   int
	closeOnce sync.Once
	done      chan struct{}
}

type scoreJob struct {
	agentID   string
	amount    int64
	timestamp time.Time
	respond   chan Result
}

// New starts a Scorer with the given worker-pool size.
func New(workers int) *Scorer {
	if workers <= 0 {
		workers = 4
	}
	s := &Scorer{
		agents:  make(map[string]*agentHistory),
		jobs:    make(chan scoreJob, workers*4),
		workers: workers,
		done:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

func (s *Scorer) worker() {
	for {
		select {
		case <-s.done:
			return
		case job, ok := <-s.jobs:
			if !ok {
				return
			}
			job.respond <- s.compute(job.agentID, job.amount, job.timestamp)
		}
	}
}

// Close stops the worker pool. Safe to call once.
func (s *Scorer) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		close(s.jobs)
	})
}

// Score enqueues a scoring request and waits up to InferenceTimeout for a
// result, per spec §4.8 ("must not block the request thread... executes
// on a worker pool"). On timeout or a full queue, returns a neutral,
// untrained result — advisory, never an error the caller must handle.
func (s *Scorer) Score(ctx context.Context, agentID string, amount int64, timestamp time.Time) Result {
	respond := make(chan Result, 1)
	job := scoreJob{agentID: agentID, amount: amount, timestamp: timestamp, respond: respond}

	select {
	case s.jobs <- job:
	default:
		return Result{}
	}

	timeout := time.NewTimer(InferenceTimeout)
	defer timeout.Stop()

	select {
	case r := <-respond:
		metrics.AnomalyScoresObserved.Observe(r.RiskScore)
		return r
	case <-timeout.C:
		return Result{}
	case <-ctx.Done():
		return Result{}
	}
}

func (s *Scorer) historyFor(agentID string) *agentHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.agents[agentID]
	if !ok {
		h = &agentHistory{}
		s.agents[agentID] = h
	}
	return h
}

// compute produces the risk score for one event, then appends it to the
// agent's history. Per spec §4.8, the z-score must be computed from PRIOR
// history before the new sample is recorded, so the write never
// contaminates the statistic it was scored against.
func (s *Scorer) compute(agentID string, amount int64, timestamp time.Time) Result {
	h := s.historyFor(agentID)

	h.mu.Lock()
	defer h.mu.Unlock()

	sampleCount := len(h.events)
	if sampleCount < MinSamples {
		h.appendLocked(amount, timestamp)
		return Result{ModelTrained: false}
	}

	if !h.model.trained || h.model.sinceRetrain >= RetrainEvery {
		h.retrainLocked()
	}

	z := zScore(logAmount(amount), h.model.mean, h.model.stddev)
	score := featureScore(z, timestamp)

	h.model.sinceRetrain++
	h.appendLocked(amount, timestamp)

	return Result{
		RiskScore:    score,
		Anomalous:    score >= AnomalousThreshold,
		ModelTrained: true,
	}
}

func (h *agentHistory) appendLocked(amount int64, timestamp time.Time) {
	h.events = append(h.events, event{amount: amount, timestamp: timestamp})
	if len(h.events) > MaxHistory {
		h.events = h.events[len(h.events)-MaxHistory:]
	}
}

// retrainLocked recomputes the mean/stddev of log-amounts across the
// current history. Population variance, matching the teacher's
// computeMeanStddev shape (sum/n then sum-of-squared-diffs/n).
func (h *agentHistory) retrainLocked() {
	n := len(h.events)
	if n == 0 {
		return
	}

	var sum float64
	for _, e := range h.events {
		sum += logAmount(e.amount)
	}
	mean := sum / float64(n)

	var varianceSum float64
	for _, e := range h.events {
		diff := logAmount(e.amount) - mean
		varianceSum += diff * diff
	}
	stddev := math.Sqrt(varianceSum / float64(n))

	// Floor stddev at 20% of |mean| (or a small absolute floor) to prevent
	// cold-start lock-in where a consistently-spending agent's stddev
	// collapses to ~0 and every future transaction reads as anomalous.
	floor := math.Abs(mean) * 0.2
	if floor < 0.05 {
		floor = 0.05
	}
	if stddev < floor {
		stddev = floor
	}

	h.model = model{mean: mean, stddev: stddev, trained: true, sinceRetrain: 0}
}

func logAmount(amount int64) float64 {
	if amount <= 0 {
		return 0
	}
	return math.Log1p(float64(amount))
}

func zScore(value, mean, stddev float64) float64 {
	if stddev == 0 {
		return 0
	}
	return (value - mean) / stddev
}

// featureScore folds the z-score, a time-of-day factor and a day-of-week
// factor into a single [0,1] risk score. Amount-magnitude (z-score) dominates; hour-of-day and
// day-of-week each contribute a smaller adjustment, mirroring the weighted
// factor combination the teacher's risk engine uses for its own
// velocity/novelty/time-of-day blend.
func featureScore(z float64, timestamp time.Time) float64 {
	const weightZScore = 0.7
	const weightTimeOfDay = 0.15
	const weightDayOfWeek = 0.15

	zComponent := sigmoid(math.Abs(z) - 3) // centers around the 3-stddev threshold
	todComponent := timeOfDayFactor(timestamp)
	dowComponent := dayOfWeekFactor(timestamp)

	score := weightZScore*zComponent + weightTimeOfDay*todComponent + weightDayOfWeek*dowComponent
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// timeOfDayFactor flags the low-activity overnight window (00:00-05:00
// UTC) as mildly unusual. A coarse heuristic, not a learned distribution —
// this is an advisory adjustment, not the primary signal.
func timeOfDayFactor(timestamp time.Time) float64 {
	hour := timestamp.UTC().Hour()
	if hour >= 0 && hour < 5 {
		return 0.5
	}
	return 0
}

// dayOfWeekFactor flags weekend activity as mildly unusual relative to
// agent payouts, which skew toward weekday business hours. Same coarse,
// advisory-only heuristic as timeOfDayFactor.
func dayOfWeekFactor(timestamp time.Time) float64 {
	switch timestamp.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return 0.5
	default:
		return 0
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
