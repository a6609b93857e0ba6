package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kozaktomas/watchpost/internal/constants"
	"github.com/kozaktomas/watchpost/internal/database"
	"github.com/kozaktomas/watchpost/internal/facematch"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// IdentitiesHandler manages the identity source. Every successful change
// rebuilds the registry snapshot.
type IdentitiesHandler struct {
	pipeline *pipeline.Pipeline
	dim      int
}

// NewIdentitiesHandler creates a new identities handler. dim is the configured
// embedding dimensionality used to validate uploaded references.
func NewIdentitiesHandler(p *pipeline.Pipeline, dim int) *IdentitiesHandler {
	return &IdentitiesHandler{pipeline: p, dim: dim}
}

// IdentityResponse describes an identity without its embeddings.
type IdentityResponse struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	RiskTag     facematch.RiskTag `json:"risk_tag"`
	Notes       string            `json:"notes,omitempty"`
	References  int               `json:"references"`
	// InRegistry is false when the identity was excluded from the current snapshot.
	InRegistry bool `json:"in_registry"`
}

// IdentityRequest creates or updates an identity. Omitting reference_embeddings
// keeps the stored ones.
type IdentityRequest struct {
	ID                  string      `json:"id"`
	DisplayName         string      `json:"display_name"`
	RiskTag             string      `json:"risk_tag"`
	Notes               string      `json:"notes"`
	ReferenceEmbeddings [][]float32 `json:"reference_embeddings"`
}

// EmbeddingRequest adds one reference embedding.
type EmbeddingRequest struct {
	Embedding []float32 `json:"embedding"`
}

// MutationResponse is returned by every write endpoint.
type MutationResponse struct {
	Identity *IdentityResponse      `json:"identity,omitempty"`
	Registry *facematch.BuildReport `json:"registry,omitempty"`
	// RegistryError is set when the change was stored but the rebuild failed.
	RegistryError string `json:"registry_error,omitempty"`
}

func (h *IdentitiesHandler) toResponse(ident facematch.Identity) IdentityResponse {
	_, inRegistry := h.pipeline.Registry().Lookup(ident.ID)
	return IdentityResponse{
		ID:          ident.ID,
		DisplayName: ident.DisplayName,
		RiskTag:     ident.RiskTag,
		Notes:       ident.Notes,
		References:  len(ident.ReferenceEmbeddings),
		InRegistry:  inRegistry,
	}
}

// List returns all identities. ?name= keeps exact display-name matches and ?q=
// substring matches, both ignoring case and diacritics; ?risk_tag= filters by tag.
func (h *IdentitiesHandler) List(w http.ResponseWriter, r *http.Request) {
	reader, err := database.GetIdentityReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	var identities []facematch.Identity
	if name := r.URL.Query().Get("name"); name != "" {
		identities, err = database.FindIdentitiesByName(r.Context(), reader, name)
	} else {
		identities, err = reader.ListIdentities(r.Context())
	}
	if err != nil {
		log.Error("listing identities", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to list identities")
		return
	}

	q := facematch.NormalizeDisplayName(r.URL.Query().Get("q"))
	tag := r.URL.Query().Get("risk_tag")

	result := make([]IdentityResponse, 0, len(identities))
	for _, ident := range identities {
		if q != "" && !strings.Contains(facematch.NormalizeDisplayName(ident.DisplayName), q) {
			continue
		}
		if tag != "" && string(ident.RiskTag) != tag {
			continue
		}
		result = append(result, h.toResponse(ident))
	}
	respondJSON(w, http.StatusOK, result)
}

// Get returns one identity.
func (h *IdentitiesHandler) Get(w http.ResponseWriter, r *http.Request) {
	reader, err := database.GetIdentityReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	ident, err := reader.GetIdentity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, storageStatus(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.toResponse(*ident))
}

// Create stores a new identity. A missing id is generated.
func (h *IdentitiesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if !decodeJSON(w, r, &req, constants.MaxObservationBody) {
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	h.save(w, r, req, http.StatusCreated)
}

// Update creates or replaces the identity named in the URL.
func (h *IdentitiesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req IdentityRequest
	if !decodeJSON(w, r, &req, constants.MaxObservationBody) {
		return
	}
	req.ID = chi.URLParam(r, "id")
	h.save(w, r, req, http.StatusOK)
}

func (h *IdentitiesHandler) save(w http.ResponseWriter, r *http.Request, req IdentityRequest, status int) {
	tag, err := facematch.ParseRiskTag(req.RiskTag)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		respondError(w, http.StatusBadRequest, "display_name is required")
		return
	}
	for _, emb := range req.ReferenceEmbeddings {
		if err := facematch.CheckEmbedding(emb, h.dim); err != nil {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
	}

	writer, err := database.GetIdentityWriter(r.Context())
	if err != nil {
		respondError(w, storageStatus(err), err.Error())
		return
	}
	ident := facematch.Identity{
		ID:                  req.ID,
		DisplayName:         strings.TrimSpace(req.DisplayName),
		RiskTag:             tag,
		Notes:               req.Notes,
		ReferenceEmbeddings: req.ReferenceEmbeddings,
	}
	if err := writer.SaveIdentity(r.Context(), ident); err != nil {
		log.Error("saving identity", "id", sanitizeForLog(req.ID), "err", err)
		respondError(w, storageStatus(err), "failed to save identity")
		return
	}

	stored, err := writer.GetIdentity(r.Context(), req.ID)
	if err != nil {
		respondError(w, storageStatus(err), err.Error())
		return
	}
	resp := h.rebuild(r.Context())
	ir := h.toResponse(*stored)
	resp.Identity = &ir
	respondJSON(w, status, resp)
}

// Delete removes an identity and clears its cooldown.
func (h *IdentitiesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	writer, err := database.GetIdentityWriter(r.Context())
	if err != nil {
		respondError(w, storageStatus(err), err.Error())
		return
	}
	if err := writer.DeleteIdentity(r.Context(), id); err != nil {
		respondError(w, storageStatus(err), err.Error())
		return
	}
	resp := h.rebuild(r.Context())
	h.pipeline.Forget(id)
	respondJSON(w, http.StatusOK, resp)
}

// AddEmbedding appends a reference embedding to an identity.
func (h *IdentitiesHandler) AddEmbedding(w http.ResponseWriter, r *http.Request) {
	var req EmbeddingRequest
	if !decodeJSON(w, r, &req, constants.MaxObservationBody) {
		return
	}
	if err := facematch.CheckEmbedding(req.Embedding, h.dim); err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	id := chi.URLParam(r, "id")
	writer, err := database.GetIdentityWriter(r.Context())
	if err != nil {
		respondError(w, storageStatus(err), err.Error())
		return
	}
	if err := writer.AddReferenceEmbedding(r.Context(), id, req.Embedding); err != nil {
		respondError(w, storageStatus(err), err.Error())
		return
	}
	stored, err := writer.GetIdentity(r.Context(), id)
	if err != nil {
		respondError(w, storageStatus(err), err.Error())
		return
	}
	resp := h.rebuild(r.Context())
	ir := h.toResponse(*stored)
	resp.Identity = &ir
	respondJSON(w, http.StatusCreated, resp)
}

// rebuild refreshes the registry after a write. A failed rebuild keeps the
// previous snapshot and is reported alongside the successful write.
func (h *IdentitiesHandler) rebuild(ctx context.Context) MutationResponse {
	report, err := database.ReloadRegistry(context.WithoutCancel(ctx), h.pipeline)
	if err != nil {
		log.Error("registry rebuild after identity change failed", "err", err)
		return MutationResponse{RegistryError: err.Error()}
	}
	return MutationResponse{Registry: &report}
}
