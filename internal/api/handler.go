package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	app_errors "attune/backend/internal/errors"
	"attune/backend/internal/interfaces"
	"attune/backend/internal/service"
)

// ChatHandler handles the conversation and submission endpoints.
type ChatHandler struct {
	exchange      interfaces.ExchangeService
	conversations interfaces.ConversationService
	settings      interfaces.SettingsService
}

func NewChatHandler(
	exchange interfaces.ExchangeService,
	conversations interfaces.ConversationService,
	settings interfaces.SettingsService,
) *ChatHandler {
	return &ChatHandler{exchange: exchange, conversations: conversations, settings: settings}
}

// HandleSendMessage godoc
// @Summary      Send a message
// @Description  Persists the user message, generates the counselor reply and returns both ids. An empty conversation_id creates a new conversation.
// @Tags         Messages
// @Accept       json
// @Produce      json
// @Param        message  body      service.SendRequest  true  "Message to send"
// @Success      200      {object}  service.SendResult
// @Failure      400      {object}  ErrorResponse
// @Failure      404      {object}  ErrorResponse
// @Router       /v1/messages [post]
func (h *ChatHandler) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req service.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", app_errors.ErrValidation))
		return
	}
	if err := validateRequest(&req); err != nil {
		respondWithError(w, err)
		return
	}

	result, err := h.exchange.Send(r.Context(), UserFromContext(r.Context()), &req)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, result)
}

// GetConversations godoc
// @Summary      List conversations
// @Tags         Conversations
// @Produce      json
// @Success      200  {array}   model.Conversation
// @Failure      503  {object}  ErrorResponse
// @Router       /v1/conversations [get]
func (h *ChatHandler) GetConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.conversations.List(r.Context(), UserFromContext(r.Context()))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, conversations)
}

// GetConversation godoc
// @Summary      Get a conversation with all its messages
// @Tags         Conversations
// @Produce      json
// @Param        conversationID  path      string  true  "Conversation ID"
// @Success      200             {object}  model.FullConversation
// @Failure      404             {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID} [get]
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	full, err := h.conversations.GetFull(r.Context(), UserFromContext(r.Context()), conversationID)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, full)
}

// GetMessages godoc
// @Summary      Get ordered messages of a conversation
// @Description  Full history by default; ?limit=N returns only the newest N messages, still in ascending time order. Clients use the limited form for backfill sweeps.
// @Tags         Messages
// @Produce      json
// @Param        conversationID  path      string  true   "Conversation ID"
// @Param        limit           query     int     false  "Only the newest N messages"
// @Success      200             {array}   model.Message
// @Failure      404             {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID}/messages [get]
func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondWithError(w, fmt.Errorf("%w: limit must be a positive integer", app_errors.ErrValidation))
			return
		}
		limit = parsed
	}

	messages, err := h.conversations.Messages(r.Context(), UserFromContext(r.Context()), conversationID, limit)
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, messages)
}

// HandleDeleteConversation godoc
// @Summary      Delete a conversation
// @Tags         Conversations
// @Produce      json
// @Param        conversationID  path      string  true  "Conversation ID"
// @Success      200             {object}  StatusResponse
// @Failure      404             {object}  ErrorResponse
// @Router       /v1/conversations/{conversationID} [delete]
func (h *ChatHandler) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if err := h.conversations.Delete(r.Context(), UserFromContext(r.Context()), conversationID); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// GetSettings godoc
// @Summary      Get application settings
// @Tags         Settings
// @Produce      json
// @Success      200  {object}  service.Settings
// @Failure      500  {object}  ErrorResponse
// @Router       /v1/settings [get]
func (h *ChatHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, settings)
}

// UpdateSettings godoc
// @Summary      Update application settings
// @Tags         Settings
// @Accept       json
// @Produce      json
// @Param        settings  body      service.Settings  true  "New settings"
// @Success      200       {object}  StatusResponse
// @Failure      400       {object}  ErrorResponse
// @Router       /v1/settings [put]
func (h *ChatHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var settings service.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondWithError(w, fmt.Errorf("%w: invalid request payload", app_errors.ErrValidation))
		return
	}
	if err := h.settings.Save(r.Context(), &settings); err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}
