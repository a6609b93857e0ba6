package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/kozaktomas/watchpost/internal/constants"
)

// StreamHandler serves the live event stream over SSE and websockets.
type StreamHandler struct {
	hub       *EventHub
	keepalive time.Duration
	origins   []string
}

// NewStreamHandler creates a stream handler. origins lists the host patterns
// allowed to open websocket connections from a browser.
func NewStreamHandler(hub *EventHub, origins []string) *StreamHandler {
	return &StreamHandler{hub: hub, keepalive: constants.KeepaliveInterval, origins: origins}
}

// Events streams match and alert events as server-sent events.
// ?alerts_only=true limits the stream to alerts.
func (h *StreamHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	alertsOnly := r.URL.Query().Get("alerts_only") == "true"

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	eventCh := h.hub.AddListener()
	defer h.hub.RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "ready", map[string]bool{"alerts_only": alertsOnly})

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if wantEvent(event, alertsOnly) {
				sendSSEEvent(w, flusher, event.Type, event.Data)
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
