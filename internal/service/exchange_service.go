package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"attune/backend/internal/analysis"
	app_errors "attune/backend/internal/errors"
	"attune/backend/internal/feed"
	"attune/backend/internal/llm"
	"attune/backend/internal/model"
	"attune/backend/internal/repository"
)

// SendRequest is the submission payload from the client. An empty
// ConversationID means "create a conversation on this first send".
type SendRequest struct {
	ConversationID string `json:"conversation_id" validate:"omitempty,uuid4"`
	Content        string `json:"content" validate:"required,min=1,max=4000"`
}

// SendResult is the synchronous response of one exchange. ReplyError is set
// on partial success: the user message was persisted, the reply was not
// generated.
type SendResult struct {
	ConversationID     string `json:"conversation_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
	ReplyText          string `json:"reply_text,omitempty"`
	ReplyError         string `json:"reply_error,omitempty"`
}

// ExchangeService implements the submission endpoint: persist the user
// message, generate the counselor reply, persist it, and publish both to the
// change feed.
type ExchangeService struct {
	repo     repository.Repository
	llm      llm.Provider
	broker   *feed.Broker
	settings *SettingsService
	analyzer *analysis.Analyzer
}

func NewExchangeService(
	repo repository.Repository,
	provider llm.Provider,
	broker *feed.Broker,
	settings *SettingsService,
	analyzer *analysis.Analyzer,
) *ExchangeService {
	return &ExchangeService{repo: repo, llm: provider, broker: broker, settings: settings, analyzer: analyzer}
}

func (s *ExchangeService) Send(ctx context.Context, userID string, req *SendRequest) (*SendResult, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: could not load settings: %v", app_errors.ErrInternal, err)
	}

	// Step 1: get or create the conversation.
	isNew := req.ConversationID == ""
	conversationID := req.ConversationID
	if isNew {
		conversationID = uuid.NewString()
		conversation := &model.Conversation{
			ID:        conversationID,
			UserID:    userID,
			Title:     truncate(req.Content, 50),
			CreatedAt: time.Now().UTC(),
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.repo.CreateConversation(ctx, conversation); err != nil {
			return nil, fmt.Errorf("%w: could not create conversation: %v", app_errors.ErrInternal, err)
		}
	} else {
		conversation, err := s.repo.GetConversation(ctx, conversationID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("%w: conversation %s", app_errors.ErrNotFound, conversationID)
			}
			return nil, fmt.Errorf("%w: could not load conversation: %v", app_errors.ErrStoreUnavailable, err)
		}
		// Hide other users' conversations behind the same 404.
		if conversation.UserID != userID {
			return nil, fmt.Errorf("%w: conversation %s", app_errors.ErrNotFound, conversationID)
		}
	}

	// Step 2: persist the user message and publish its insert event.
	userMessage := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           model.RoleUser,
		Content:        req.Content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.AddMessage(ctx, conversationID, &userMessage); err != nil {
		return nil, fmt.Errorf("%w: could not store message: %v", app_errors.ErrInternal, err)
	}
	s.broker.Publish(model.ChangeEvent{Kind: model.EventInsert, Row: userMessage})
	messagesSubmitted.Inc()

	// Step 3: score the user message asynchronously. The annotation arrives
	// as a change-feed update event whenever the analysis finishes. The
	// model comes from this request's settings read, so settings changes
	// apply to the next message.
	go s.analyzer.Analyze(userMessage.ID, settings.AnalysisModel)

	result := &SendResult{ConversationID: conversationID, UserMessageID: userMessage.ID}

	// Step 4: generate the counselor reply from the full history.
	history, err := s.repo.GetMessages(ctx, conversationID)
	if err != nil {
		slog.Warn("Could not load history for reply, falling back to current message",
			"conversation_id", conversationID, "error", err)
		history = []model.Message{userMessage}
	}

	replyText, err := s.llm.Reply(ctx, settings.ReplyModel, settings.SystemPrompt, history)
	if err != nil {
		// Partial success: the user message is durable, the reply is not.
		slog.Error("Reply generation failed", "conversation_id", conversationID, "error", err)
		repliesFailed.Inc()
		result.ReplyError = "The counselor could not respond right now."
		return result, nil
	}

	// Step 5: persist the assistant message and publish its insert event.
	assistantMessage := model.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           model.RoleAssistant,
		Content:        replyText,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.AddMessage(ctx, conversationID, &assistantMessage); err != nil {
		slog.Error("Failed to save assistant message", "conversation_id", conversationID, "error", err)
		repliesFailed.Inc()
		result.ReplyError = "The counselor could not respond right now."
		return result, nil
	}
	s.broker.Publish(model.ChangeEvent{Kind: model.EventInsert, Row: assistantMessage})

	result.AssistantMessageID = assistantMessage.ID
	result.ReplyText = replyText

	if isNew {
		go s.generateTitle(context.Background(), conversationID, settings.AnalysisModel,
			userMessage.Content, assistantMessage.Content)
	}
	return result, nil
}

// generateTitle asks the support model for a short conversation title once
// the first exchange completes. Runs detached from the request.
func (s *ExchangeService) generateTitle(ctx context.Context, conversationID, modelName, userText, assistantText string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	prompt := []model.Message{{
		Role: model.RoleUser,
		Content: fmt.Sprintf(
			"Based on the following conversation, what would be a good title?\n\n---\nUser: %s\n\nCounselor: %s\n---",
			truncate(userText, 150), truncate(assistantText, 200)),
	}}
	title, err := s.llm.Reply(ctx, modelName,
		"You create short, concise titles for counseling conversations. Respond with only the title.", prompt)
	if err != nil {
		slog.Warn("Failed to generate conversation title", "conversation_id", conversationID, "error", err)
		return
	}

	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if title == "" {
		return
	}
	if err := s.repo.UpdateConversationTitle(ctx, conversationID, truncate(title, 100)); err != nil {
		slog.Warn("Failed to update conversation title", "conversation_id", conversationID, "error", err)
	}
}

// truncate shortens a string to a specified number of runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
