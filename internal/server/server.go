// Package server wires the governance firewall's collaborators into a
// single running process: the HTTP router (push ingress + admin/query
// surface), the optional pull-mode poller, and the durable stores behind
// them. Everything is constructed once at startup from config.Config, the
// same shape as an explicit AppState value built in one place.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/govfire/internal/adminapi"
	"github.com/mbd888/govfire/internal/anomaly"
	"github.com/mbd888/govfire/internal/audit"
	"github.com/mbd888/govfire/internal/budget"
	"github.com/mbd888/govfire/internal/circuitbreaker"
	"github.com/mbd888/govfire/internal/config"
	"github.com/mbd888/govfire/internal/governance"
	"github.com/mbd888/govfire/internal/health"
	"github.com/mbd888/govfire/internal/idempotency"
	"github.com/mbd888/govfire/internal/identity"
	"github.com/mbd888/govfire/internal/ingress"
	"github.com/mbd888/govfire/internal/kv"
	"github.com/mbd888/govfire/internal/logging"
	"github.com/mbd888/govfire/internal/metrics"
	"github.com/mbd888/govfire/internal/notify"
	"github.com/mbd888/govfire/internal/paymentaction"
	"github.com/mbd888/govfire/internal/policy"
	"github.com/mbd888/govfire/internal/ratelimit"
	"github.com/mbd888/govfire/internal/reputation"
	"github.com/mbd888/govfire/internal/security"
	"github.com/mbd888/govfire/internal/traces"
	"github.com/mbd888/govfire/internal/validation"
)

// Firewall wraps the HTTP server and every collaborator behind it.
type Firewall struct {
	cfg *config.Config

	db            *sql.DB // nil if running on in-memory stores
	kv            kv.Store
	policies      policy.Store
	budget        *budget.Ledger
	auditSink     audit.Sink
	engine        *governance.Engine
	adapter       *ingress.Adapter
	action        *paymentaction.Client
	notifier      *notify.Client
	anomalyScorer *anomaly.Scorer

	reputationBreaker *circuitbreaker.Breaker
	identityBreaker   *circuitbreaker.Breaker
	actionBreaker     *circuitbreaker.Breaker

	pullLoop   *ingress.PullLoop
	pullCancel context.CancelFunc

	healthRegistry *health.Registry
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	tracerShutdown func(context.Context) error

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures a Firewall at construction time.
type Option func(*Firewall)

// WithLogger overrides the default config-derived logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Firewall) { f.logger = logger }
}

// New constructs a Firewall from cfg: durable stores, the decision-matrix
// engine, the ingress adapter, and the HTTP router, in that order — later
// collaborators depend on the ones built before them.
func New(cfg *config.Config, opts ...Option) (*Firewall, error) {
	f := &Firewall{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(f)
	}

	ctx := context.Background()

	tracerShutdown, err := traces.Init(ctx, cfg.OTLPEndpoint, f.logger)
	if err != nil {
		f.logger.Warn("failed to initialize tracing", "error", err)
		tracerShutdown = func(context.Context) error { return nil }
	}
	f.tracerShutdown = tracerShutdown

	if err := f.setupStores(ctx); err != nil {
		return nil, err
	}
	if err := f.setupCollaborators(); err != nil {
		return nil, err
	}
	f.setupHealth()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	f.router = gin.New()
	f.setupMiddleware()
	f.setupRoutes()

	if cfg.AutoPoll && f.pullLoop != nil {
		f.startPullLoop()
	}

	f.healthy.Store(true)
	f.ready.Store(true)

	return f, nil
}

// setupStores wires the fast KV substrate and the durable policy/audit
// stores, choosing Postgres-backed implementations when DATABASE_URL and
// REDIS_ADDR are configured and falling back to in-memory otherwise —
// the teacher's DATABASE_URL-gated dual-mode convention.
func (f *Firewall) setupStores(ctx context.Context) error {
	store, err := kv.NewRedisStore(f.cfg.RedisAddr, f.cfg.RedisPassword, f.cfg.RedisDB)
	if err != nil {
		f.logger.Warn("redis unavailable, falling back to in-memory KV substrate", "error", err)
		f.kv = kv.NewMemoryStore()
	} else {
		f.kv = store
		f.logger.Info("using redis KV substrate", "addr", f.cfg.RedisAddr)
	}

	fallback, err := audit.NewFileFallback(f.cfg.AuditFallbackDir)
	if err != nil {
		return fmt.Errorf("server: audit fallback: %w", err)
	}

	if f.cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", f.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("server: open database: %w", err)
		}
		db.SetMaxOpenConns(f.cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(f.cfg.DBMaxIdleConns)
		db.SetConnMaxLifetime(f.cfg.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(f.cfg.DBConnMaxIdleTime)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("server: connect to database: %w", err)
		}
		f.db = db

		f.policies = policy.NewCachedStore(policy.NewPostgresStore(db)).WithCacheTTL(30 * time.Second)
		f.auditSink = audit.NewCombinedSink(audit.NewPostgresSink(db), fallback)
		f.logger.Info("using postgres policy/audit stores", "url", maskDSN(f.cfg.DatabaseURL))
	} else {
		f.policies = policy.NewMemoryStore()
		f.auditSink = audit.NewCombinedSink(nil, fallback)
		f.logger.Info("using in-memory policy/audit stores (data will not persist)")
	}

	f.budget = budget.New(f.kv)
	return nil
}

// setupCollaborators builds the advisory screens (reputation, identity,
// anomaly), the payment-action and notification collaborators, and wires
// them all into the governance.Engine and the ingress.Adapter in front of
// it.
func (f *Firewall) setupCollaborators() error {
	newBreaker := func() *circuitbreaker.Breaker {
		return circuitbreaker.New(f.cfg.BreakerFailureThreshold, f.cfg.BreakerResetTimeout)
	}
	f.reputationBreaker = newBreaker()
	f.identityBreaker = newBreaker()
	f.actionBreaker = newBreaker()

	if f.cfg.ThreatIntelURL != "" {
		if err := security.ValidateEndpointURL(f.cfg.ThreatIntelURL); err != nil {
			return fmt.Errorf("server: THREAT_INTEL_URL: %w", err)
		}
	}
	repClient := reputation.New(f.cfg.ThreatIntelURL, f.cfg.ThreatIntelAPIKey, f.reputationBreaker)

	var idVerifier *identity.Verifier
	if f.cfg.IdentityAPIURL != "" {
		if err := security.ValidateEndpointURL(f.cfg.IdentityAPIURL); err != nil {
			return fmt.Errorf("server: IDENTITY_API_URL: %w", err)
		}
		provider := identity.NewHTTPProvider(f.cfg.IdentityAPIURL, f.cfg.IdentityAPIKey, nil)
		idVerifier = identity.New(provider, f.identityBreaker)
	}

	f.anomalyScorer = anomaly.New(4)

	if f.cfg.PaymentBackendURL != "" {
		if err := security.ValidateEndpointURL(f.cfg.PaymentBackendURL); err != nil {
			return fmt.Errorf("server: PAYMENT_BACKEND_URL: %w", err)
		}
	}
	f.action = paymentaction.New(paymentaction.NewStripeBackend(f.cfg.StripeSecretKey), f.actionBreaker)

	if f.cfg.NotifyURL != "" {
		if err := security.ValidateEndpointURL(f.cfg.NotifyURL); err != nil {
			return fmt.Errorf("server: NOTIFY_URL: %w", err)
		}
	}
	f.notifier = notify.New(f.cfg.NotifyURL, f.cfg.NotifyAPIKey, nil)

	idem := idempotency.New(f.kv)

	engineOpts := []governance.Option{governance.WithLogger(f.logger), governance.WithAnomaly(f.anomalyScorer)}
	if idVerifier != nil {
		engineOpts = append(engineOpts, governance.WithIdentity(idVerifier))
	}

	f.engine = governance.New(idem, f.policies, f.budget, repClient, f.auditSink, f.action, f.notifier, engineOpts...)
	f.adapter = ingress.New(f.engine, f.cfg.InFlightLimit)

	if f.cfg.PaymentBackendURL != "" {
		lister := ingress.NewHTTPLister(f.cfg.PaymentBackendURL, f.cfg.PaymentBackendAPIKey, nil)
		f.pullLoop = ingress.NewPullLoop(lister, f.adapter, f.cfg.PollInterval, f.logger)
	}

	return nil
}

func (f *Firewall) setupHealth() {
	f.healthRegistry = health.NewRegistry()
	f.healthRegistry.Register("kv", func(ctx context.Context) health.Status {
		if _, err := f.budget.Current(ctx, "__healthcheck__"); err != nil {
			return health.Status{Name: "kv", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "kv", Healthy: true}
	})
	if f.db != nil {
		f.healthRegistry.Register("database", func(ctx context.Context) health.Status {
			dctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := f.db.PingContext(dctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	f.healthRegistry.Register("breaker:reputation", breakerStatus("breaker:reputation", f.reputationBreaker))
	f.healthRegistry.Register("breaker:identity", breakerStatus("breaker:identity", f.identityBreaker))
	f.healthRegistry.Register("breaker:payment_action", breakerStatus("breaker:payment_action", f.actionBreaker))
}

func breakerStatus(name string, b *circuitbreaker.Breaker) health.Checker {
	return func(context.Context) health.Status {
		snap := b.Snapshot(name)
		if snap.State == circuitbreaker.StateOpen {
			return health.Status{Name: name, Healthy: false, Detail: "circuit open"}
		}
		return health.Status{Name: name, Healthy: true}
	}
}

func (f *Firewall) startPullLoop() {
	pullCtx, cancel := context.WithCancel(context.Background())
	f.pullCancel = cancel
	go f.pullLoop.Run(pullCtx)
	f.logger.Info("pull-mode polling enabled", "interval", f.cfg.PollInterval)
}

func maskDSN(string) string {
	return "***"
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (f *Firewall) setupMiddleware() {
	f.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	f.router.Use(security.HeadersMiddleware())
	f.router.Use(security.CORSMiddleware([]string{"*"}))
	f.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: f.cfg.RateLimitRPM,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	})
	f.router.Use(limiter.Middleware())

	f.router.Use(metrics.Middleware())
	f.router.Use(f.requestIDMiddleware())
	f.router.Use(f.loggingMiddleware())
}

func (f *Firewall) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, f.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (f *Firewall) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		case status >= 400:
			logger.Warn("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		default:
			logger.Info("request completed", "method", c.Request.Method, "path", path, "status", status, "latency_ms", latency.Milliseconds())
		}
	}
}

func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (f *Firewall) setupRoutes() {
	pushHandler := ingress.NewPushHandler(f.adapter, f.cfg.WebhookSecret, f.logger)
	f.router.POST("/webhooks/payouts", pushHandler.Handle)

	admin := adminapi.NewHandler(f.adapter, f.budget, f.policies, f.auditSink, f.healthRegistry, f.action, f.cfg.AdminSecret)
	if f.cfg.PaymentBackendURL != "" {
		admin = admin.WithLister(ingress.NewHTTPLister(f.cfg.PaymentBackendURL, f.cfg.PaymentBackendAPIKey, nil))
	}
	admin.RegisterRoutes(f.router)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until ctx is canceled, then drains
// in-flight requests within cfg.HTTPWriteTimeout before returning.
func (f *Firewall) Run(ctx context.Context) error {
	f.httpSrv = &http.Server{
		Addr:         ":" + f.cfg.Port,
		Handler:      f.router,
		ReadTimeout:  f.cfg.HTTPReadTimeout,
		WriteTimeout: f.cfg.HTTPWriteTimeout,
		IdleTimeout:  f.cfg.HTTPIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		f.logger.Info("firewall listening", "addr", f.httpSrv.Addr)
		if err := f.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	return f.Shutdown(context.Background())
}

// Shutdown drains the HTTP server, stops the pull loop, and closes every
// collaborator that owns a resource.
func (f *Firewall) Shutdown(ctx context.Context) error {
	f.healthy.Store(false)
	f.ready.Store(false)

	if f.pullCancel != nil {
		f.pullCancel()
	}
	f.anomalyScorer.Close()

	shutdownCtx, cancel := context.WithTimeout(ctx, f.cfg.HTTPWriteTimeout)
	defer cancel()
	if f.httpSrv != nil {
		if err := f.httpSrv.Shutdown(shutdownCtx); err != nil {
			f.logger.Error("http server shutdown error", "error", err)
		}
	}

	if err := f.auditSink.Close(); err != nil {
		f.logger.Error("audit sink close error", "error", err)
	}
	if f.db != nil {
		if err := f.db.Close(); err != nil {
			f.logger.Error("database close error", "error", err)
		}
	}
	if err := f.tracerShutdown(ctx); err != nil {
		f.logger.Error("tracer shutdown error", "error", err)
	}

	return nil
}

// Router exposes the underlying gin engine for tests.
func (f *Firewall) Router() *gin.Engine { return f.router }
