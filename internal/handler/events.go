package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/wagate-server-go/internal/errors"
	"github.com/openclaw/wagate-server-go/internal/middleware"
	"github.com/openclaw/wagate-server-go/internal/sse"
)

type EventsHandler struct {
	broker    *sse.Broker
	heartbeat time.Duration
}

func NewEventsHandler(broker *sse.Broker) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := middleware.GetOwner(r.Context())
	if owner == nil {
		writeError(w, apperrors.Unauthorized("Unauthorized"))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, apperrors.Internal("Streaming not supported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := h.broker.Subscribe(owner.ID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("ownerId", owner.ID).Msg("sse connection established")

	if err := h.sendEvent(w, flusher, "connected", map[string]any{
		"ownerId": owner.ID,
		"at":      time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return
	}

	ctx := r.Context()
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("ownerId", owner.ID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("ownerId", owner.ID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("ownerId", owner.ID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
