package handlers

import (
	"context"
	"sync"

	"github.com/kozaktomas/watchpost/internal/constants"
	"github.com/kozaktomas/watchpost/internal/pipeline"
)

// Live event types.
const (
	EventMatch = "match"
	EventAlert = "alert"
)

// LiveEvent is one message on the live stream.
type LiveEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EventHub fans pipeline events out to live listeners. It is a pipeline.Sink;
// slow listeners miss events rather than block the pipeline.
type EventHub struct {
	listeners []chan LiveEvent
	mu        sync.RWMutex
}

var _ pipeline.Sink = (*EventHub)(nil)

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{}
}

// AddListener adds an event listener.
func (h *EventHub) AddListener() chan LiveEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan LiveEvent, constants.EventChannelBuffer)
	h.listeners = append(h.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (h *EventHub) RemoveListener(ch chan LiveEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, listener := range h.listeners {
		if listener == ch {
			h.listeners = append(h.listeners[:i], h.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// Listeners returns the number of connected listeners.
func (h *EventHub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// Send delivers an event to all listeners.
func (h *EventHub) Send(event LiveEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, listener := range h.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// HandleMatch implements pipeline.Sink.
func (h *EventHub) HandleMatch(_ context.Context, ev pipeline.MatchEvent) error {
	h.Send(LiveEvent{Type: EventMatch, Data: ev})
	return nil
}

// HandleAlert implements pipeline.Sink.
func (h *EventHub) HandleAlert(_ context.Context, ev pipeline.AlertEvent) error {
	h.Send(LiveEvent{Type: EventAlert, Data: ev})
	return nil
}

// Close disconnects every listener.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, listener := range h.listeners {
		close(listener)
	}
	h.listeners = nil
}

// wantEvent applies the alerts_only stream filter.
func wantEvent(ev LiveEvent, alertsOnly bool) bool {
	return !alertsOnly || ev.Type == EventAlert
}
