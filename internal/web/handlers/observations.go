package handlers

import (
	"errors"
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/kozaktomas/watchpost/internal/constants"
	"github.com/kozaktomas/watchpost/internal/pipeline"
	"github.com/kozaktomas/watchpost/internal/web/middleware"
)

// ObservationsHandler feeds observations from cameras into the pipeline.
type ObservationsHandler struct {
	pipeline *pipeline.Pipeline
}

// NewObservationsHandler creates a new observations handler.
func NewObservationsHandler(p *pipeline.Pipeline) *ObservationsHandler {
	return &ObservationsHandler{pipeline: p}
}

// ObservationResult is the outcome of one observation. Error is set instead of
// Match for rejected observations in a batch.
type ObservationResult struct {
	Match *pipeline.MatchEvent `json:"match,omitempty"`
	Alert *pipeline.AlertEvent `json:"alert,omitempty"`
	Error string               `json:"error,omitempty"`
}

// BatchRequest carries several observations from the same camera.
type BatchRequest struct {
	Observations []pipeline.Observation `json:"observations"`
}

// BatchResponse holds one result per submitted observation, in order.
type BatchResponse struct {
	Results  []ObservationResult `json:"results"`
	Accepted int                 `json:"accepted"`
	Rejected int                 `json:"rejected"`
}

// Submit processes a single observation.
func (h *ObservationsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var obs pipeline.Observation
	if !decodeJSON(w, r, &obs, constants.MaxObservationBody) {
		return
	}
	h.defaultSource(r, &obs)

	outcome, err := h.pipeline.OnObservation(r.Context(), obs)
	if errors.Is(err, pipeline.ErrMalformedInput) {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		log.Error("observation failed", "source", sanitizeForLog(obs.Source), "err", err)
		respondError(w, http.StatusInternalServerError, "failed to process observation")
		return
	}

	respondJSON(w, http.StatusOK, ObservationResult{Match: &outcome.Match, Alert: outcome.Alert})
}

// SubmitBatch processes observations in order. Malformed entries are reported
// per item and do not fail the batch.
func (h *ObservationsHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if !decodeJSON(w, r, &req, constants.MaxBatchBody) {
		return
	}
	if len(req.Observations) == 0 {
		respondError(w, http.StatusBadRequest, "observations is required")
		return
	}
	if len(req.Observations) > constants.MaxObservationBatch {
		respondError(w, http.StatusRequestEntityTooLarge, "too many observations in batch")
		return
	}

	resp := BatchResponse{Results: make([]ObservationResult, len(req.Observations))}
	for i := range req.Observations {
		obs := req.Observations[i]
		h.defaultSource(r, &obs)
		outcome, err := h.pipeline.OnObservation(r.Context(), obs)
		if err != nil {
			resp.Results[i] = ObservationResult{Error: err.Error()}
			resp.Rejected++
			continue
		}
		resp.Results[i] = ObservationResult{Match: &outcome.Match, Alert: outcome.Alert}
		resp.Accepted++
	}
	respondJSON(w, http.StatusOK, resp)
}

// defaultSource attributes observations without a source to the calling token.
func (h *ObservationsHandler) defaultSource(r *http.Request, obs *pipeline.Observation) {
	if obs.Source != "" {
		return
	}
	if claims := middleware.GetClaimsFromContext(r.Context()); claims != nil {
		obs.Source = claims.Subject
	}
}
