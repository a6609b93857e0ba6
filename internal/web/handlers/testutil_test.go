package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/database/mock"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	cfg := config.Load()
	cfg.Matching = config.MatchingConfig{
		MatchThreshold: 0.6,
		AlertThreshold: 0.5,
		CooldownWindow: 30 * time.Second,
		Dim:            4,
		Index:          "flat",
	}
	return cfg
}

// testIdentities returns a banned identity A and a vip identity B in 4 dimensions
func testIdentities() []facematch.Identity {
	return []facematch.Identity{
		{ID: "A", DisplayName: "Alice Novák", RiskTag: facematch.RiskBanned, ReferenceEmbeddings: [][]float32{{0, 0, 0, 0}}},
		{ID: "B", DisplayName: "Bob", RiskTag: facematch.RiskVIP, ReferenceEmbeddings: [][]float32{{1, 0, 0, 0}}},
	}
}

// setupBackend registers in-memory identity and history stores and returns a pipeline
// whose registry has been loaded from them
func setupBackend(t *testing.T) (*pipeline.Pipeline, *mock.MockIdentityStore, *mock.MockHistoryStore) {
	t.Helper()
	database.ResetForTesting()
	t.Cleanup(database.ResetForTesting)

	identities := mock.NewMockIdentityStore(testIdentities()...)
	history := mock.NewMockHistoryStore()
	database.RegisterIdentityBackend("mock",
		func() database.IdentityReader { return identities },
		func() database.IdentityWriter { return identities })
	database.RegisterHistoryStore(func() database.HistoryStore { return history })

	p := pipeline.New(pipeline.Options{Dim: 4})
	if _, err := database.ReloadRegistry(context.Background(), p); err != nil {
		t.Fatalf("ReloadRegistry() error = %v", err)
	}
	p.AddSink(database.NewHistorySink(history))
	return p, identities, history
}

// jsonRequest creates a request with a JSON body
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
