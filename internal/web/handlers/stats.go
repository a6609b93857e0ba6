package handlers

import (
	"net/http"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// StatsHandler handles statistics endpoints
type StatsHandler struct {
	pipeline *pipeline.Pipeline
	hub      *EventHub
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(p *pipeline.Pipeline, hub *EventHub) *StatsHandler {
	return &StatsHandler{pipeline: p, hub: hub}
}

// StatsResponse represents the statistics response
type StatsResponse struct {
	pipeline.Stats
	LiveListeners int `json:"live_listeners"`
	// StoredAlerts is -1 when no history store is configured.
	StoredAlerts int `json:"stored_alerts"`
}

// Get returns pipeline counters since startup
func (h *StatsHandler) Get(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Stats:        h.pipeline.Stats(),
		StoredAlerts: -1,
	}
	if h.hub != nil {
		resp.LiveListeners = h.hub.Listeners()
	}
	if reader, err := database.GetHistoryReader(r.Context()); err == nil {
		if n, err := reader.CountAlerts(r.Context()); err == nil {
			resp.StoredAlerts = n
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
