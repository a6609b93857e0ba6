package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/watchpost/internal/database"
)

func TestRespondJSON(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusCreated, map[string]any{"message": "hello", "count": 42})

	assertStatusCode(t, recorder, http.StatusCreated)
	assertContentType(t, recorder, "application/json")

	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["message"] != "hello" || result["count"] != float64(42) {
		t.Errorf("unexpected body %v", result)
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondError(recorder, http.StatusNotFound, "identity not found")

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "identity not found")
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		maxBytes   int64
		wantOK     bool
		wantStatus int
	}{
		{"valid", `{"embedding":[1,2]}`, 1024, true, http.StatusOK},
		{"invalid json", `{"embedding":`, 1024, false, http.StatusBadRequest},
		{"empty body", ``, 1024, false, http.StatusBadRequest},
		{"too large", `{"embedding":[` + strings.Repeat("1,", 100) + `1]}`, 32, false, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/", strings.NewReader(tt.body))

			var dst struct {
				Embedding []float32 `json:"embedding"`
			}
			ok := decodeJSON(recorder, req, &dst, tt.maxBytes)
			if ok != tt.wantOK {
				t.Fatalf("decodeJSON() = %v, want %v", ok, tt.wantOK)
			}
			if ok && len(dst.Embedding) != 2 {
				t.Errorf("decoded %v", dst.Embedding)
			}
			assertStatusCode(t, recorder, tt.wantStatus)
		})
	}
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query    string
		expected int
	}{
		{"?limit=25", 25},
		{"?limit=-3", -3},
		{"?limit=abc", 7},
		{"", 7},
	}

	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/"+tt.query, nil)
		if got := queryInt(req, "limit", 7); got != tt.expected {
			t.Errorf("queryInt(%q) = %d, want %d", tt.query, got, tt.expected)
		}
	}
}

func TestStorageStatus(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{fmt.Errorf("identity X: %w", database.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("mariadb: %w", database.ErrReadOnly), http.StatusConflict},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := storageStatus(tt.err); got != tt.expected {
			t.Errorf("storageStatus(%v) = %d, want %d", tt.err, got, tt.expected)
		}
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("door-1\nlevel=error fake"); got != "door-1level=error fake" {
		t.Errorf("sanitizeForLog() = %q", got)
	}
}

func TestHealthCheck(t *testing.T) {
	recorder := httptest.NewRecorder()
	HealthCheck(recorder, httptest.NewRequest("GET", "/api/v1/health", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result map[string]string
	parseJSONResponse(t, recorder, &result)
	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%s'", result["status"])
	}
}
