package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/govfire/internal/governance"
	"github.com/mbd888/govfire/internal/payout"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 over the raw request
// body (spec §6's push format).
const SignatureHeader = "X-Govfire-Signature"

// PushHandler verifies and submits payment-backend push webhooks.
type PushHandler struct {
	adapter *Adapter
	secret  []byte
	logger  *slog.Logger
}

// NewPushHandler constructs a PushHandler. secret is the shared HMAC key
// from configuration; an empty secret is a misconfiguration the caller
// must refuse to start with, not something this handler silently accepts.
func NewPushHandler(adapter *Adapter, secret string, logger *slog.Logger) *PushHandler {
	return &PushHandler{adapter: adapter, secret: []byte(secret), logger: logger}
}

// verify reports whether sig is the correct hex HMAC-SHA256 of body under
// the configured secret, using a constant-time comparison (mirrors the
// teacher's receipts.Signer.Verify).
func (h *PushHandler) verify(body []byte, sig string) bool {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(sig))
}

// Handle is the gin handler for the push-ingress endpoint. Rejected
// signatures never reach the governance engine (spec §4.10): they return
// 401 and are not audited as governance decisions.
func (h *PushHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	sig := c.GetHeader(SignatureHeader)
	if sig == "" || !h.verify(body, sig) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	intent, err := payout.ParseWebhookBody(body, time.Now())
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if intent == nil {
		// A verified but non-actionable event type (e.g. not
		// "payout.queued"). Acknowledge so the backend stops retrying.
		c.JSON(http.StatusOK, gin.H{"acknowledged": true})
		return
	}

	decision, err := h.adapter.Submit(c.Request.Context(), *intent)
	if errors.Is(err, ErrBackpressure) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":       "backpressure",
			"retry_after": 1,
		})
		return
	}
	if err != nil {
		h.logger.Error("ingress: push submit failed", "payout_id", intent.PayoutID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "governance cycle failed"})
		return
	}

	c.JSON(http.StatusOK, decisionResponse(decision))
}

func decisionResponse(d *governance.Decision) gin.H {
	return gin.H{
		"payoutId":     d.PayoutID,
		"agentId":      d.AgentID,
		"decision":     d.Kind,
		"reasonCode":   d.ReasonCode,
		"reasonDetail": d.ReasonDetail,
		"threatTags":   d.ThreatTags,
	}
}
