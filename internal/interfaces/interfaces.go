package interfaces

import (
	"context"

	"attune/backend/internal/model"
	"attune/backend/internal/service"
)

// This file defines the interfaces for our core services. Depending on these
// interfaces, instead of concrete implementations, decouples the API layer
// from the service layer and allows testing handlers with generated mocks.

// ExchangeService defines the contract of the submission endpoint.
type ExchangeService interface {
	Send(ctx context.Context, userID string, req *service.SendRequest) (*service.SendResult, error)
}

// ConversationService defines the contract for the read side of conversations.
type ConversationService interface {
	List(ctx context.Context, userID string) ([]*model.Conversation, error)
	GetFull(ctx context.Context, userID, conversationID string) (*model.FullConversation, error)
	Messages(ctx context.Context, userID, conversationID string, limit int) ([]model.Message, error)
	Delete(ctx context.Context, userID, conversationID string) error
}

// SettingsService defines the contract for managing application settings.
type SettingsService interface {
	InitAndGet(ctx context.Context, defaults service.Settings) (*service.Settings, error)
	Get(ctx context.Context) (*service.Settings, error)
	Save(ctx context.Context, settings *service.Settings) error
}
