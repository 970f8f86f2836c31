package service

import (
	"context"
	"errors"
	"fmt"

	app_errors "attune/backend/internal/errors"
	"attune/backend/internal/model"
	"attune/backend/internal/repository"
)

// ConversationService serves the read side: listings, full history and the
// recent-window reads used by the client's backfill sweep.
type ConversationService struct {
	repo repository.Repository
}

func NewConversationService(repo repository.Repository) *ConversationService {
	return &ConversationService{repo: repo}
}

func (s *ConversationService) List(ctx context.Context, userID string) ([]*model.Conversation, error) {
	conversations, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: could not list conversations: %v", app_errors.ErrStoreUnavailable, err)
	}
	return conversations, nil
}

func (s *ConversationService) GetFull(ctx context.Context, userID, conversationID string) (*model.FullConversation, error) {
	conversation, err := s.authorize(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	messages, err := s.repo.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%w: could not get messages: %v", app_errors.ErrStoreUnavailable, err)
	}
	return &model.FullConversation{Conversation: *conversation, Messages: messages}, nil
}

// Messages returns the ordered history; a positive limit restricts it to the
// newest limit entries (still ascending).
func (s *ConversationService) Messages(ctx context.Context, userID, conversationID string, limit int) ([]model.Message, error) {
	if _, err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	var messages []model.Message
	var err error
	if limit > 0 {
		messages, err = s.repo.GetRecentMessages(ctx, conversationID, limit)
	} else {
		messages, err = s.repo.GetMessages(ctx, conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: could not get messages: %v", app_errors.ErrStoreUnavailable, err)
	}
	return messages, nil
}

func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	if _, err := s.authorize(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.repo.DeleteConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("%w: could not delete conversation: %v", app_errors.ErrInternal, err)
	}
	return nil
}

// authorize loads the conversation and hides other users' conversations
// behind the same not-found error.
func (s *ConversationService) authorize(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conversation, err := s.repo.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: conversation %s", app_errors.ErrNotFound, conversationID)
		}
		return nil, fmt.Errorf("%w: could not load conversation: %v", app_errors.ErrStoreUnavailable, err)
	}
	if conversation.UserID != userID {
		return nil, fmt.Errorf("%w: conversation %s", app_errors.ErrNotFound, conversationID)
	}
	return conversation, nil
}
