package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()
	store, err := NewHistoryStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func ptr(f float64) *float64 { return &f }

func TestHistoryStore_Matches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	events := []pipeline.MatchEvent{
		{ID: "m1", Source: "entrance", ObservedAt: t0, BestLabel: "A", NearestID: "A", Distance: ptr(0.3),
			Confidence: 0.7, Matched: true, IdentityID: "A", DisplayName: "Alice", RiskTag: facematch.RiskBanned,
			AlertWorthy: true, AlertID: "a1"},
		{ID: "m2", Source: "entrance", ObservedAt: t0.Add(time.Second), BestLabel: facematch.UnknownLabel,
			NearestID: "A", Distance: ptr(0.9), Confidence: 0.1},
		{ID: "m3", Source: "backdoor", ObservedAt: t0.Add(2 * time.Second), BestLabel: facematch.UnknownLabel},
	}
	for _, ev := range events {
		require.NoError(t, store.RecordMatch(ctx, ev))
	}
	// Duplicate delivery is ignored.
	require.NoError(t, store.RecordMatch(ctx, events[0]))

	got, err := store.ListMatches(ctx, database.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m3", got[0].ID, "newest first")
	assert.Equal(t, "m1", got[2].ID)

	first := got[2]
	assert.Equal(t, t0, first.ObservedAt)
	require.NotNil(t, first.Distance)
	assert.InDelta(t, 0.3, *first.Distance, 1e-9)
	assert.True(t, first.Matched)
	assert.True(t, first.AlertWorthy)
	assert.Equal(t, facematch.RiskBanned, first.RiskTag)
	assert.Equal(t, "a1", first.AlertID)

	assert.Nil(t, got[0].Distance, "empty-registry match has no distance")

	unknown, err := store.ListMatches(ctx, database.HistoryQuery{UnknownOnly: true})
	require.NoError(t, err)
	assert.Len(t, unknown, 2)

	bySource, err := store.ListMatches(ctx, database.HistoryQuery{Source: "entrance", Limit: 1})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "m2", bySource[0].ID)

	byIdentity, err := store.ListMatches(ctx, database.HistoryQuery{IdentityID: "A"})
	require.NoError(t, err)
	require.Len(t, byIdentity, 1)
	assert.Equal(t, "m1", byIdentity[0].ID)
}

func TestHistoryStore_Alerts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"a1", "a2"} {
		require.NoError(t, store.RecordAlert(ctx, pipeline.AlertEvent{
			ID:            id,
			MatchID:       "m" + id,
			IdentityID:    "A",
			DisplayName:   "Alice",
			RiskTag:       facematch.RiskBanned,
			Distance:      0.3,
			Confidence:    0.7,
			ConfidencePct: 70,
			ObservedAt:    t0.Add(time.Duration(i) * time.Minute),
			Source:        "entrance",
		}))
	}

	got, err := store.ListAlerts(ctx, database.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a2", got[0].ID)
	assert.Equal(t, 70, got[0].ConfidencePct)
	assert.Equal(t, facematch.RiskBanned, got[0].RiskTag)

	// UnknownOnly does not apply to alerts.
	got, err = store.ListAlerts(ctx, database.HistoryQuery{UnknownOnly: true})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	n, err := store.CountAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHistoryStore_Prune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RecordMatch(ctx, pipeline.MatchEvent{ID: "old", ObservedAt: t0, BestLabel: "unknown"}))
	require.NoError(t, store.RecordMatch(ctx, pipeline.MatchEvent{ID: "new", ObservedAt: t0.Add(48 * time.Hour), BestLabel: "unknown"}))
	require.NoError(t, store.RecordAlert(ctx, pipeline.AlertEvent{ID: "a", MatchID: "old", IdentityID: "A", RiskTag: facematch.RiskBanned, ObservedAt: t0}))

	removed, err := store.Prune(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err := store.ListMatches(ctx, database.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)
}

func TestHistoryStore_AsPipelineSink(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := pipeline.New(pipeline.Options{Dim: 2})
	p.RebuildRegistry(ctx, []facematch.Identity{
		{ID: "A", DisplayName: "Alice", RiskTag: facematch.RiskBanned, ReferenceEmbeddings: [][]float32{{0, 0}}},
	})
	p.AddSink(database.NewHistorySink(store))

	_, err := p.OnObservation(ctx, pipeline.Observation{Embedding: []float32{0, 0.25}, ObservedAt: t0, Source: "entrance"})
	require.NoError(t, err)

	matches, err := store.ListMatches(ctx, database.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "A", matches[0].IdentityID)

	alerts, err := store.ListAlerts(ctx, database.HistoryQuery{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, matches[0].AlertID, alerts[0].ID)
	assert.Equal(t, 75, alerts[0].ConfidencePct)
}
