package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"attune/backend/internal/feed"
	"attune/backend/internal/interfaces"
)

// EventsHandler serves the change feed of one conversation over SSE. It
// depends on the broker directly: the subscription is transport plumbing,
// not business logic.
type EventsHandler struct {
	broker        *feed.Broker
	conversations interfaces.ConversationService
}

func NewEventsHandler(broker *feed.Broker, conversations interfaces.ConversationService) *EventsHandler {
	return &EventsHandler{broker: broker, conversations: conversations}
}

// HandleEvents godoc
// @Summary      Stream conversation change events
// @Description  Server-sent events: one JSON ChangeEvent per data line. Insert events for new messages, update events for annotations. At-least-once; consumers deduplicate by row id.
// @Tags         Messages
// @Produce      text/event-stream
// @Param        conversationID  path  string  true  "Conversation ID"
// @Success      200  {object}  model.ChangeEvent "Stream of change events"
// @Failure      404  {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID}/events [get]
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	// Authorize before upgrading to a stream; reuses the read-side ownership
	// check (limit 1 keeps it cheap).
	if _, err := h.conversations.Messages(r.Context(), UserFromContext(r.Context()), conversationID, 1); err != nil {
		respondWithError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	events, cancel := h.broker.Subscribe(conversationID)
	defer cancel()

	slog.Debug("Event stream opened", "conversation_id", conversationID)
	for {
		select {
		case <-r.Context().Done():
			slog.Debug("Event stream client disconnected", "conversation_id", conversationID)
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeStreamEvent(w, event); err != nil {
				slog.Debug("Could not write to event stream, client likely disconnected", "error", err)
				return
			}
		}
	}
}
