package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/watchpost/internal/database"
)

func TestConfigHandler_Get(t *testing.T) {
	setupBackend(t)
	handler := NewConfigHandler(testConfig())

	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest("GET", "/api/v1/config", nil))
	assertStatusCode(t, recorder, http.StatusOK)
	assertContentType(t, recorder, "application/json")

	var resp ConfigResponse
	parseJSONResponse(t, recorder, &resp)

	if resp.MatchThreshold != 0.6 || resp.AlertThreshold != 0.5 {
		t.Errorf("thresholds = %v/%v, want 0.6/0.5", resp.MatchThreshold, resp.AlertThreshold)
	}
	if resp.MinConfidence != 0.5 {
		t.Errorf("MinConfidence = %v, want 0.5", resp.MinConfidence)
	}
	if resp.CooldownSeconds != 30 {
		t.Errorf("CooldownSeconds = %v, want 30", resp.CooldownSeconds)
	}
	if resp.Dim != 4 || resp.Index != "flat" {
		t.Errorf("dim/index = %d/%q, want 4/flat", resp.Dim, resp.Index)
	}
	if resp.IdentitySource != "mock" || !resp.IdentitiesWritable || !resp.HistoryEnabled {
		t.Errorf("storage flags = %+v", resp)
	}
	if banned, ok := resp.RiskTags["banned"]; !ok || banned.Label != "Banned" {
		t.Errorf("risk_tags[banned] = %+v, want label Banned", banned)
	}
	if len(resp.RiskTags) != 4 {
		t.Errorf("got %d risk tags, want 4", len(resp.RiskTags))
	}
}

func TestConfigHandler_Get_ReadOnlyWithoutHistory(t *testing.T) {
	database.ResetForTesting()
	t.Cleanup(database.ResetForTesting)
	database.RegisterIdentityBackend("mariadb", func() database.IdentityReader { return nil }, nil)

	handler := NewConfigHandler(testConfig())
	recorder := httptest.NewRecorder()
	handler.Get(recorder, httptest.NewRequest("GET", "/api/v1/config", nil))

	var resp ConfigResponse
	parseJSONResponse(t, recorder, &resp)
	if resp.IdentitiesWritable {
		t.Error("read-only source reported as writable")
	}
	if resp.HistoryEnabled {
		t.Error("history reported without a store")
	}
	if resp.IdentitySource != "mariadb" {
		t.Errorf("IdentitySource = %q, want mariadb", resp.IdentitySource)
	}
}
