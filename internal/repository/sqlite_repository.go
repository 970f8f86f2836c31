package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"attune/backend/internal/model"
)

type sqliteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) Repository {
	return &sqliteRepository{db: db}
}

func (r *sqliteRepository) CreateConversation(ctx context.Context, conversation *model.Conversation) error {
	query := "INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"
	_, err := r.db.ExecContext(ctx, query,
		conversation.ID, conversation.UserID, conversation.Title,
		conversation.CreatedAt, conversation.UpdatedAt)
	return err
}

func (r *sqliteRepository) GetConversation(ctx context.Context, conversationID string) (*model.Conversation, error) {
	query := "SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?"
	row := r.db.QueryRowContext(ctx, query, conversationID)
	var c model.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *sqliteRepository) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	query := "SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ? ORDER BY updated_at DESC"
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		conversations = append(conversations, &c)
	}
	return conversations, rows.Err()
}

func (r *sqliteRepository) UpdateConversationTitle(ctx context.Context, conversationID, newTitle string) error {
	query := "UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, newTitle, time.Now().UTC(), conversationID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	query := "DELETE FROM conversations WHERE id = ?"
	_, err := r.db.ExecContext(ctx, query, conversationID)
	return err
}

// AddMessage uses a transaction so the message insert and the conversation
// timestamp bump land together.
func (r *sqliteRepository) AddMessage(ctx context.Context, conversationID string, message *model.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	annotation, err := marshalAnnotation(message.Annotation)
	if err != nil {
		return err
	}

	insertQuery := `
		INSERT INTO messages (id, conversation_id, role, content, annotation, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, insertQuery,
		message.ID,
		conversationID,
		string(message.Role),
		message.Content,
		annotation,
		message.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("could not insert message: %w", err)
	}

	touchQuery := "UPDATE conversations SET updated_at = ? WHERE id = ?"
	if _, err := tx.ExecContext(ctx, touchQuery, time.Now().UTC(), conversationID); err != nil {
		return fmt.Errorf("could not update conversation timestamp: %w", err)
	}

	return tx.Commit()
}

func (r *sqliteRepository) GetMessage(ctx context.Context, messageID string) (*model.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, annotation, created_at
		FROM messages
		WHERE id = ?
	`
	row := r.db.QueryRowContext(ctx, query, messageID)
	msg, err := scanMessage(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (r *sqliteRepository) GetMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, annotation, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	return r.queryMessages(ctx, query, conversationID)
}

func (r *sqliteRepository) GetRecentMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	// Inner query grabs the newest rows, outer query restores ascending order.
	query := `
		SELECT id, conversation_id, role, content, annotation, created_at FROM (
			SELECT id, conversation_id, role, content, annotation, created_at, rowid AS rid
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at DESC, rid DESC
			LIMIT ?
		) ORDER BY created_at ASC, rid ASC
	`
	rows, err := r.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func (r *sqliteRepository) UpdateAnnotation(ctx context.Context, messageID string, annotation model.Annotation) error {
	data, err := json.Marshal(annotation)
	if err != nil {
		return fmt.Errorf("could not marshal annotation: %w", err)
	}
	query := "UPDATE messages SET annotation = ? WHERE id = ?"
	res, err := r.db.ExecContext(ctx, query, string(data), messageID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *sqliteRepository) queryMessages(ctx context.Context, query string, args ...any) ([]model.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

func collectMessages(rows *sql.Rows) ([]model.Message, error) {
	messages := []model.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func scanMessage(scan func(dest ...any) error) (*model.Message, error) {
	var msg model.Message
	var role string
	var annotation sql.NullString

	if err := scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &annotation, &msg.CreatedAt); err != nil {
		return nil, err
	}

	msg.Role = model.Role(role)
	if annotation.Valid {
		var a model.Annotation
		if err := json.Unmarshal([]byte(annotation.String), &a); err != nil {
			return nil, fmt.Errorf("could not unmarshal annotation: %w", err)
		}
		msg.Annotation = &a
	}
	return &msg, nil
}

func marshalAnnotation(a *model.Annotation) (sql.NullString, error) {
	if a == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("could not marshal annotation: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
