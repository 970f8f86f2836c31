package repository

import (
	"context"

	"attune/backend/internal/model"
)

// Repository defines the interface for message-store operations.
// This interface makes it easy to switch database implementations.
type Repository interface {
	CreateConversation(ctx context.Context, conversation *model.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error)
	UpdateConversationTitle(ctx context.Context, conversationID, newTitle string) error
	DeleteConversation(ctx context.Context, conversationID string) error

	// AddMessage appends a message and bumps the conversation timestamp.
	AddMessage(ctx context.Context, conversationID string, message *model.Message) error
	GetMessage(ctx context.Context, messageID string) (*model.Message, error)
	// GetMessages returns all messages of a conversation ordered by time ascending.
	GetMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	// GetRecentMessages returns the newest limit messages, still ordered
	// ascending so callers can append them as-is.
	GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
	// UpdateAnnotation sets the annotation column of an existing message.
	UpdateAnnotation(ctx context.Context, messageID string, annotation model.Annotation) error
}
