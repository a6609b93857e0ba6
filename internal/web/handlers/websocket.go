package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"

	"github.com/kozaktomas/watchpost/internal/constants"
)

// Websocket streams live events as JSON text messages. Clients never send
// anything; reads only detect disconnects.
// ?alerts_only=true limits the stream to alerts.
func (h *StreamHandler) Websocket(w http.ResponseWriter, r *http.Request) {
	alertsOnly := r.URL.Query().Get("alerts_only") == "true"

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// CloseRead drains incoming frames and cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	eventCh := h.hub.AddListener()
	defer h.hub.RemoveListener(eventCh)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if !wantEvent(event, alertsOnly) {
				continue
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				log.Debug("websocket write failed", "err", err)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, event LiveEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, constants.WebsocketWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
