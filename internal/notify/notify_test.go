package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/govfire/internal/payout"
)

func testIntent() payout.Intent {
	return payout.Intent{
		PayoutID:   "p1",
		AgentID:    "agent-1",
		Amount:     5000,
		Currency:   "USD",
		VendorName: "Acme Inc",
		ReceivedAt: time.Now(),
	}
}

func TestClient_NotifyHeldPostsSignedPayload(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Govfire-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "s3cr3t", nil)
	err := c.NotifyHeld(context.Background(), testIntent(), "amount exceeds threshold")
	require.NoError(t, err)

	var payload heldPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, "p1", payload.PayoutID)
	assert.Equal(t, "amount exceeds threshold", payload.Detail)

	h := hmac.New(sha256.New, []byte("s3cr3t"))
	h.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), gotSig)
}

func TestClient_NotifyHeldNoopWhenURLUnset(t *testing.T) {
	c := New("", "", nil)
	err := c.NotifyHeld(context.Background(), testIntent(), "held")
	require.NoError(t, err)
}

func TestClient_NotifyHeldRetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "", nil)
	err := c.NotifyHeld(context.Background(), testIntent(), "held")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_NotifyHeldDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(srv.URL, "", nil)
	err := c.NotifyHeld(context.Background(), testIntent(), "held")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a 4xx rejection must not be retried")
}

func TestClient_NotifyHeldExhaustsRetriesOnPersistentFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, "", nil)
	err := c.NotifyHeld(context.Background(), testIntent(), "held")
	require.Error(t, err)
	assert.Equal(t, int32(MaxAttempts), atomic.LoadInt32(&calls))
}
