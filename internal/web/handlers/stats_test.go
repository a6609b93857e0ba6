package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

func TestStatsHandler_Get(t *testing.T) {
	p, _, _ := setupBackend(t)
	hub := NewEventHub()
	hub.AddListener()
	handler := NewStatsHandler(p, hub)

	start := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)
	for i, emb := range [][]float32{
		{0.3, 0, 0, 0},
		{0.3, 0, 0, 0},
		{1, 0, 0, 0},
		{7, 7, 7, 7},
	} {
		obs := pipeline.Observation{Embedding: emb, ObservedAt: start.Add(time.Duration(i) * time.Second)}
		if _, err := p.OnObservation(context.Background(), obs); err != nil {
			t.Fatalf("OnObservation(%d) error = %v", i, err)
		}
	}
	_, _ = p.OnObservation(context.Background(), pipeline.Observation{Embedding: []float32{1}})

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest("GET", "/api/v1/stats", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)

	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"identities", int64(stats.Identities), 2},
		{"observations", stats.Observations, 4},
		{"matched", stats.Matched, 3},
		{"unknown", stats.Unknown, 1},
		{"alerts", stats.Alerts, 1},
		{"suppressed", stats.SuppressedAlerts, 1},
		{"malformed", stats.Malformed, 1},
		{"live listeners", int64(stats.LiveListeners), 1},
		{"stored alerts", int64(stats.StoredAlerts), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestStatsHandler_Get_NoHistory(t *testing.T) {
	database.ResetForTesting()
	t.Cleanup(database.ResetForTesting)
	handler := NewStatsHandler(pipeline.New(pipeline.Options{}), nil)

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest("GET", "/api/v1/stats", nil))
	assertStatusCode(t, recorder, http.StatusOK)

	var stats StatsResponse
	parseJSONResponse(t, recorder, &stats)
	if stats.StoredAlerts != -1 {
		t.Errorf("StoredAlerts = %d, want -1 without a history store", stats.StoredAlerts)
	}
	if stats.Identities != 0 || stats.Observations != 0 {
		t.Errorf("fresh pipeline stats = %+v", stats.Stats)
	}
}
