package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

func testAlert() pipeline.AlertEvent {
	return pipeline.AlertEvent{
		ID:            "alert-1",
		MatchID:       "match-1",
		IdentityID:    "A",
		DisplayName:   "Alice",
		RiskTag:       facematch.RiskBanned,
		Distance:      0.3,
		Confidence:    0.7,
		ConfidencePct: 70,
		ObservedAt:    time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		Source:        "door-1",
	}
}

func TestWebhook_DeliversAlert(t *testing.T) {
	received := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var p Payload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		received <- p
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	require.NoError(t, wh.HandleAlert(context.Background(), testAlert()))

	p := <-received
	assert.Equal(t, "alert", p.Event)
	assert.Equal(t, "A", p.Alert.IdentityID)
	assert.Equal(t, 70, p.Alert.ConfidencePct)
	assert.Equal(t, "closed", wh.State())
}

func TestWebhook_IgnoresMatches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls.Add(1) }))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, wh.HandleMatch(context.Background(), pipeline.MatchEvent{ID: "m"}))
	assert.Zero(t, calls.Load())
}

func TestWebhook_CircuitOpensAfterFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL, MaxFailures: 2, OpenTimeout: time.Minute, RateLimit: 100, Burst: 100})
	require.NoError(t, err)

	ctx := context.Background()
	err = wh.HandleAlert(ctx, testAlert())
	assert.ErrorContains(t, err, "502")
	err = wh.HandleAlert(ctx, testAlert())
	assert.ErrorContains(t, err, "boom")

	err = wh.HandleAlert(ctx, testAlert())
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load(), "open circuit must not reach the server")
	assert.Equal(t, "open", wh.State())
}

func TestWebhook_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh, err := NewWebhook(WebhookConfig{URL: srv.URL, RateLimit: 0.001, Burst: 1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, wh.HandleAlert(ctx, testAlert()))
	assert.ErrorIs(t, wh.HandleAlert(ctx, testAlert()), ErrRateLimited)
}

func TestNewWebhook_RequiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{})
	assert.Error(t, err)
}
