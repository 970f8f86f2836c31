package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"attune/backend/internal/model"
)

// redisRepository is the alternate storage backend. Conversations and
// messages are stored as hashes; per-user and per-conversation orderings are
// kept in sorted sets scored by timestamp.
type redisRepository struct {
	rdb *redis.Client
}

func NewRedisRepository(rdb *redis.Client) Repository {
	return &redisRepository{rdb: rdb}
}

// Key generation helpers.
func (r *redisRepository) conversationKey(id string) string { return fmt.Sprintf("conversation:%s", id) }
func (r *redisRepository) messagesKey(id string) string {
	return fmt.Sprintf("conversation:%s:messages", id)
}
func (r *redisRepository) messageKey(id string) string       { return fmt.Sprintf("message:%s", id) }
func (r *redisRepository) userConversationsKey(u string) string { return fmt.Sprintf("user:%s:conversations", u) }

func (r *redisRepository) CreateConversation(ctx context.Context, conversation *model.Conversation) error {
	data, err := structToMap(conversation)
	if err != nil {
		return fmt.Errorf("could not convert conversation to map: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.conversationKey(conversation.ID), data)
	pipe.ZAdd(ctx, r.userConversationsKey(conversation.UserID), redis.Z{
		Score:  float64(-conversation.UpdatedAt.UnixNano()),
		Member: conversation.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	data, err := r.rdb.HGetAll(ctx, r.conversationKey(conversationID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	var c model.Conversation
	return &c, mapToStruct(data, &c)
}

func (r *redisRepository) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	ids, err := r.rdb.ZRange(ctx, r.userConversationsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	conversations := make([]*model.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetConversation(ctx, id)
		if err == nil && c != nil {
			conversations = append(conversations, c)
		}
	}
	return conversations, nil
}

func (r *redisRepository) UpdateConversationTitle(ctx context.Context, conversationID, newTitle string) error {
	key := r.conversationKey(conversationID)
	exists, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}

	now := time.Now().UTC()
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, "title", newTitle)
	pipe.HSet(ctx, key, "updated_at", now.Format(time.RFC3339Nano))

	userID, err := r.rdb.HGet(ctx, key, "user_id").Result()
	if err == nil && userID != "" {
		pipe.ZAdd(ctx, r.userConversationsKey(userID), redis.Z{
			Score:  float64(-now.UnixNano()),
			Member: conversationID,
		})
	}

	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	c, err := r.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("could not get conversation for deletion: %w", err)
	}

	msgIDs, err := r.rdb.ZRange(ctx, r.messagesKey(conversationID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("could not get message ids for deletion: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	if len(msgIDs) > 0 {
		keys := make([]string, len(msgIDs))
		for i, id := range msgIDs {
			keys[i] = r.messageKey(id)
		}
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, r.conversationKey(conversationID))
	pipe.Del(ctx, r.messagesKey(conversationID))
	pipe.ZRem(ctx, r.userConversationsKey(c.UserID), conversationID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute conversation deletion pipeline: %w", err)
	}
	return nil
}

func (r *redisRepository) AddMessage(ctx context.Context, conversationID string, message *model.Message) error {
	data, err := structToMap(message)
	if err != nil {
		return fmt.Errorf("could not convert message to map: %w", err)
	}
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, r.messageKey(message.ID), data)
	pipe.ZAdd(ctx, r.messagesKey(conversationID), redis.Z{
		Score:  float64(message.CreatedAt.UnixNano()),
		Member: message.ID,
	})
	pipe.HSet(ctx, r.conversationKey(conversationID), "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisRepository) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	data, err := r.rdb.HGetAll(ctx, r.messageKey(messageID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNotFound
	}
	var msg model.Message
	return &msg, mapToStruct(data, &msg)
}

func (r *redisRepository) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	ids, err := r.rdb.ZRange(ctx, r.messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []model.Message{}, nil
		}
		return nil, err
	}
	return r.fetchMessages(ctx, ids)
}

func (r *redisRepository) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	// The newest limit members, returned in ascending score order.
	ids, err := r.rdb.ZRange(ctx, r.messagesKey(conversationID), int64(-limit), -1).Result()
	if err != nil {
		if err == redis.Nil {
			return []model.Message{}, nil
		}
		return nil, err
	}
	return r.fetchMessages(ctx, ids)
}

func (r *redisRepository) UpdateAnnotation(ctx context.Context, messageID string, annotation model.Annotation) error {
	key := r.messageKey(messageID)
	exists, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	data, err := json.Marshal(annotation)
	if err != nil {
		return fmt.Errorf("could not marshal annotation: %w", err)
	}
	return r.rdb.HSet(ctx, key, "annotation", string(data)).Err()
}

func (r *redisRepository) fetchMessages(ctx context.Context, ids []string) ([]model.Message, error) {
	messages := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		data, err := r.rdb.HGetAll(ctx, r.messageKey(id)).Result()
		if err != nil || len(data) == 0 {
			continue
		}
		var msg model.Message
		if err := mapToStruct(data, &msg); err == nil {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

// Helper functions.
func structToMap(obj interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var mapped map[string]interface{}
	if err := json.Unmarshal(data, &mapped); err != nil {
		return nil, err
	}
	// Nested objects (annotation) are stored as their JSON encoding.
	for k, v := range mapped {
		if _, ok := v.(map[string]interface{}); ok {
			nested, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			mapped[k] = string(nested)
		}
	}
	return mapped, nil
}

func mapToStruct(data map[string]string, obj interface{}) error {
	normalized := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		// The annotation field is the only nested object; it is stored as
		// its JSON encoding and must be passed through raw.
		if k == "annotation" && json.Valid([]byte(v)) {
			normalized[k] = json.RawMessage(v)
			continue
		}
		quoted, err := json.Marshal(v)
		if err != nil {
			return err
		}
		normalized[k] = quoted
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, obj)
}
