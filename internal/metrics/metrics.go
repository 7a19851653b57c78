// Package metrics provides Prometheus instrumentation for the governance firewall.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "govfire",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "govfire",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts governance decisions by kind and reason code.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "govfire",
			Name:      "decisions_total",
			Help:      "Total governance decisions by kind and reason code.",
		},
		[]string{"kind", "reason"},
	)

	// DecisionLatency observes the end-to-end governance cycle duration.
	DecisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "govfire",
			Name:      "decision_latency_seconds",
			Help:      "End-to-end governance cycle latency in seconds.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// CompensatingEntriesTotal counts post-commit compensating audit entries
	// written when a payment-action call fails after an APPROVED commit
	// (spec §4.9 "Post-commit action coupling").
	CompensatingEntriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govfire",
		Name:      "compensating_entries_total",
		Help:      "Total compensating audit entries written after a post-commit action failure.",
	})

	// AuditFallbackWritesTotal counts writes that fell back to the local
	// append-only file because the durable sink was unreachable.
	AuditFallbackWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "govfire",
		Name:      "audit_fallback_writes_total",
		Help:      "Total audit records written to the local fallback path.",
	})

	// ReputationLookupsTotal counts reputation evaluations by outcome.
	ReputationLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "govfire",
		Name:      "reputation_lookups_total",
		Help:      "Total reputation evaluations by outcome (safe, unsafe, infra_failure, cached).",
	}, []string{"outcome"})

	// AnomalyScoresObserved observes the anomaly risk score distribution.
	AnomalyScoresObserved = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "govfire",
		Name:      "anomaly_scores",
		Help:      "Distribution of per-agent anomaly risk scores (advisory, never gates a decision).",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})

	// PaymentActionsTotal counts payment-backend approve/cancel calls by result.
	PaymentActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "govfire",
		Name:      "payment_actions_total",
		Help:      "Total payment-action dispatches by action (approve, cancel) and result (ok, error).",
	}, []string{"action", "result"})

	// WebhookDeliveriesTotal counts human-notification delivery attempts.
	WebhookDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "govfire",
			Name:      "notification_deliveries_total",
			Help:      "Total human-notification deliveries by result.",
		},
		[]string{"result"},
	)

	// InFlightIntents tracks governance cycles currently in progress.
	InFlightIntents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "govfire",
			Name:      "in_flight_intents",
			Help:      "Number of governance cycles currently in progress.",
		},
	)

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govfire", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govfire", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govfire", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govfire", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govfire", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "govfire", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		DecisionLatency,
		CompensatingEntriesTotal,
		AuditFallbackWritesTotal,
		ReputationLookupsTotal,
		AnomalyScoresObserved,
		WebhookDeliveriesTotal,
		InFlightIntents,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
