package handlers

import (
	"net/http"

	"github.com/charmbracelet/log"

	"github.com/kozaktomas/watchpost/internal/constants"
	"github.com/kozaktomas/watchpost/internal/database"
)

// HistoryHandler lists persisted match and alert events.
type HistoryHandler struct {
	pageSize int
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(pageSize int) *HistoryHandler {
	if pageSize <= 0 {
		pageSize = constants.DefaultHandlerPageSize
	}
	return &HistoryHandler{pageSize: pageSize}
}

func (h *HistoryHandler) query(r *http.Request) database.HistoryQuery {
	q := r.URL.Query()
	return database.HistoryQuery{
		Limit:       database.ClampLimit(queryInt(r, "limit", 0), h.pageSize, constants.MaxHandlerPageSize),
		IdentityID:  q.Get("identity_id"),
		Source:      q.Get("source"),
		UnknownOnly: q.Get("unknown") == "true",
	}
}

// Matches lists match events, newest first.
// Query: limit, identity_id, source, unknown=true.
func (h *HistoryHandler) Matches(w http.ResponseWriter, r *http.Request) {
	reader, err := database.GetHistoryReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	events, err := reader.ListMatches(r.Context(), h.query(r))
	if err != nil {
		log.Error("listing match history", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to list matches")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// Alerts lists alert events, newest first.
// Query: limit, identity_id, source.
func (h *HistoryHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	reader, err := database.GetHistoryReader(r.Context())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	events, err := reader.ListAlerts(r.Context(), h.query(r))
	if err != nil {
		log.Error("listing alert history", "err", err)
		respondError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	respondJSON(w, http.StatusOK, events)
}
