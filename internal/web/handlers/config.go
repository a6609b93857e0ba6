package handlers

import (
	"net/http"

	"github.com/kozaktomas/watchpost/internal/config"
	"github.com/kozaktomas/watchpost/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	MatchThreshold     float64                          `json:"match_threshold"`
	AlertThreshold     float64                          `json:"alert_threshold"`
	MinConfidence      float64                          `json:"min_alert_confidence"`
	CooldownSeconds    float64                          `json:"cooldown_seconds"`
	Dim                int                              `json:"dim"`
	Index              string                           `json:"index"`
	IdentitySource     string                           `json:"identity_source"`
	IdentitiesWritable bool                             `json:"identities_writable"`
	HistoryEnabled     bool                             `json:"history_enabled"`
	RiskTags           map[string]config.RiskTagDisplay `json:"risk_tags"`
}

// Get returns the matching configuration and risk tag display metadata
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	m := h.config.Matching
	_, writerErr := database.GetIdentityWriter(r.Context())
	_, historyErr := database.GetHistoryReader(r.Context())

	response := ConfigResponse{
		MatchThreshold:     m.MatchThreshold,
		AlertThreshold:     m.AlertThreshold,
		MinConfidence:      1 - m.AlertThreshold,
		CooldownSeconds:    m.CooldownWindow.Seconds(),
		Dim:                m.Dim,
		Index:              m.Index,
		IdentitySource:     database.IdentityBackendName(),
		IdentitiesWritable: writerErr == nil,
		HistoryEnabled:     historyErr == nil,
		RiskTags:           h.config.RiskTags.Tags,
	}

	respondJSON(w, http.StatusOK, response)
}
