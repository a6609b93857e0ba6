package handlers

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// RegistryHandler exposes the current registry snapshot and cooldown state.
type RegistryHandler struct {
	pipeline *pipeline.Pipeline
}

// NewRegistryHandler creates a new registry handler.
func NewRegistryHandler(p *pipeline.Pipeline) *RegistryHandler {
	return &RegistryHandler{pipeline: p}
}

// RegistryResponse summarises the active snapshot.
type RegistryResponse struct {
	Source     string                `json:"source"`
	Identities int                   `json:"identities"`
	References int                   `json:"references"`
	Dim        int                   `json:"dim"`
	Indexed    bool                  `json:"indexed"`
	LastBuild  facematch.BuildReport `json:"last_build"`
}

// Get describes the active registry snapshot.
func (h *RegistryHandler) Get(w http.ResponseWriter, r *http.Request) {
	reg := h.pipeline.Registry()
	respondJSON(w, http.StatusOK, RegistryResponse{
		Source:     database.IdentityBackendName(),
		Identities: reg.Len(),
		References: reg.References(),
		Dim:        reg.Dim(),
		Indexed:    reg.Indexed(),
		LastBuild:  h.pipeline.LastBuildReport(),
	})
}

// Rebuild reloads identities from the source and swaps in a new snapshot.
func (h *RegistryHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	report, err := database.ReloadRegistry(r.Context(), h.pipeline)
	if err != nil {
		log.Error("registry rebuild failed", "err", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// CooldownResponse describes one identity's alert cooldown.
type CooldownResponse struct {
	IdentityID string `json:"identity_id"`
	State      string `json:"state"`
}

// GetCooldown reports whether an identity is currently suppressing alerts.
func (h *RegistryHandler) GetCooldown(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	state := h.pipeline.Cooldown().State(id, h.pipeline.Now())
	respondJSON(w, http.StatusOK, CooldownResponse{IdentityID: id, State: state.String()})
}

// ResetCooldown clears an identity's cooldown so its next sighting alerts immediately.
func (h *RegistryHandler) ResetCooldown(w http.ResponseWriter, r *http.Request) {
	h.pipeline.Forget(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}
