// Package adminapi exposes the small synchronous admin/query surface spec
// §6 requires: submit_intent, get_budget, get_audit, upsert_policy,
// health, metrics, plus a resolve-held endpoint for the open question of
// how a HELD decision eventually settles, and a manual poll trigger for
// operators who want an out-of-band pull-mode tick. Adapted from
// internal/admin's narrow-service-interface-plus-builder-method shape
// (Handler, WithX(...) *Handler, RegisterRoutes(*gin.RouterGroup)).
package adminapi

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/govfire/internal/audit"
	"github.com/mbd888/govfire/internal/budget"
	"github.com/mbd888/govfire/internal/governance"
	"github.com/mbd888/govfire/internal/health"
	"github.com/mbd888/govfire/internal/ingress"
	"github.com/mbd888/govfire/internal/metrics"
	"github.com/mbd888/govfire/internal/payout"
	"github.com/mbd888/govfire/internal/policy"
)

// Handler serves the admin/query surface over the core collaborators.
// Constructed once at startup, alongside the Firewall wiring struct.
type Handler struct {
	adapter   *ingress.Adapter
	lister    ingress.Lister // optional; enables POST /admin/poll
	budget    *budget.Ledger
	policies  policy.Store
	auditSink audit.Sink
	health    *health.Registry
	action    governance.PaymentAction
	secret    string
}

// NewHandler constructs a Handler. secret guards every route under
// RegisterRoutes via the X-Admin-Secret header, matching the teacher's
// constant-time admin-auth convention.
func NewHandler(
	adapter *ingress.Adapter,
	ledger *budget.Ledger,
	policies policy.Store,
	auditSink audit.Sink,
	healthRegistry *health.Registry,
	action governance.PaymentAction,
	secret string,
) *Handler {
	return &Handler{
		adapter:   adapter,
		budget:    ledger,
		policies:  policies,
		auditSink: auditSink,
		health:    healthRegistry,
		action:    action,
		secret:    secret,
	}
}

// WithLister attaches a pull-mode Lister so POST /admin/poll can trigger a
// single manual listing cycle. Optional.
func (h *Handler) WithLister(l ingress.Lister) *Handler {
	h.lister = l
	return h
}

// RegisterRoutes mounts the admin/query surface under r. /healthz and
// /metrics are intentionally NOT behind the admin-secret middleware — they
// are the surface operators and scrapers hit before authenticating.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", h.healthCheck)
	r.GET("/metrics", metrics.Handler())

	admin := r.Group("/admin", h.requireAdminSecret())
	admin.POST("/intents", h.submitIntent)
	admin.GET("/budget/:agentId", h.getBudget)
	admin.GET("/audit", h.getAudit)
	admin.PUT("/policies/:agentId", h.upsertPolicy)
	admin.POST("/held/:payoutId/resolve", h.resolveHeld)
	admin.POST("/poll", h.poll)
}

func (h *Handler) requireAdminSecret() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.secret == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin surface disabled"})
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(h.secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// submitIntent implements submit_intent(intent) -> Decision.
func (h *Handler) submitIntent(c *gin.Context) {
	var intent payout.Intent
	if err := c.ShouldBindJSON(&intent); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	intent.ReceivedAt = time.Now()

	if err := intent.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	decision, err := h.adapter.Submit(c.Request.Context(), intent)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decision)
}

// getBudget implements get_budget(agent_id) -> {cap, spent, remaining}.
func (h *Handler) getBudget(c *gin.Context) {
	agentID := c.Param("agentId")

	pol, err := h.policies.Get(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no policy for agent"})
		return
	}

	spent, err := h.budget.Current(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	remaining := pol.DailyCap - spent
	if remaining < 0 {
		remaining = 0
	}
	c.JSON(http.StatusOK, gin.H{
		"agentId":   agentID,
		"cap":       pol.DailyCap,
		"spent":     spent,
		"remaining": remaining,
	})
}

// getAudit implements get_audit(filter) -> [AuditRecord].
func (h *Handler) getAudit(c *gin.Context) {
	f := audit.Filter{
		AgentID:  c.Query("agentId"),
		Decision: c.Query("decision"),
		Cursor:   c.Query("cursor"),
	}
	if l := c.Query("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			f.Limit = n
		}
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			f.Since = t
		}
	}
	if u := c.Query("until"); u != "" {
		if t, err := time.Parse(time.RFC3339, u); err == nil {
			f.Until = t
		}
	}

	page, err := h.auditSink.Query(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}

// upsertPolicy implements upsert_policy(AgentPolicy) -> ok.
func (h *Handler) upsertPolicy(c *gin.Context) {
	var pol policy.AgentPolicy
	if err := c.ShouldBindJSON(&pol); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pol.AgentID = c.Param("agentId")

	if err := pol.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.policies.Upsert(c.Request.Context(), &pol); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// healthCheck implements health() -> {component -> ok|degraded|down,
// breaker snapshots}.
func (h *Handler) healthCheck(c *gin.Context) {
	healthy, statuses := h.health.CheckAll(c.Request.Context())
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"healthy": healthy, "components": statuses})
}

// poll triggers a single manual pull-mode listing cycle, per the
// operator-facing supplement to spec §4.10. No-op (501) if no Lister was
// attached — pull mode is optional and push-only deployments need not pay
// for it.
func (h *Handler) poll(c *gin.Context) {
	if h.lister == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "pull mode not configured"})
		return
	}

	ctx := c.Request.Context()
	intents, err := h.lister.ListQueued(ctx)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	var submitted int
	var failed int
	for _, intent := range intents {
		if _, err := h.adapter.Submit(ctx, intent); err != nil {
			failed++
			continue
		}
		submitted++
	}
	c.JSON(http.StatusOK, gin.H{"listed": len(intents), "submitted": submitted, "failed": failed})
}

// resolveHeldRequest carries the fields an operator already has from the
// HELD notification callback — audit.Filter has no payout_id field to look
// these back up by, only agent_id/decision/time-range (spec
// §6's get_audit filter shape), so resolution is driven by what the
// operator's own tooling already holds rather than a server-side lookup.
type resolveHeldRequest struct {
	AgentID string `json:"agentId" binding:"required"`
	Amount  int64  `json:"amount" binding:"required"`
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

// resolveHeld settles a HELD decision: approve captures the payment and
// keeps the reservation; deny cancels the payment and rolls back the
// reservation it was still holding. Grounded on internal/admin/handlers.go's
// resolveSession (force-settle a stuck financial state via a narrow
// collaborator interface), retargeted from a gateway session to a HELD
// payout.
func (h *Handler) resolveHeld(c *gin.Context) {
	payoutID := c.Param("payoutId")

	var req resolveHeldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	record := &audit.Record{
		PayoutID:    payoutID,
		AgentID:     req.AgentID,
		Amount:      req.Amount,
		CommittedAt: time.Now(),
	}

	if req.Approve {
		if err := h.action.Approve(ctx, payoutID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		record.PayoutID = payoutID + ":held_resolved"
		record.Decision = string(governance.KindApproved)
		record.ReasonCode = "HELD_RESOLVED_APPROVED"
		record.ReasonDetail = req.Reason
	} else {
		if err := h.budget.Rollback(ctx, req.AgentID, req.Amount); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if err := h.action.Cancel(ctx, payoutID); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		record.PayoutID = payoutID + ":held_resolved"
		record.Decision = string(governance.KindRejected)
		record.ReasonCode = "HELD_RESOLVED_DENIED"
		record.ReasonDetail = req.Reason
	}

	if err := h.auditSink.Commit(ctx, record); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
