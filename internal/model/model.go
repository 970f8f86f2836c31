package model

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation stores metadata about one counseling session.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Annotation is structured metadata attached to a user message by the
// asynchronous analysis pass. It is absent until the analysis completes.
type Annotation struct {
	// Score is a 1-5 tension rating of the message.
	Score int `json:"score"`
}

// Message is a single entry in a conversation. Content is immutable once
// created; Annotation is the only field that changes after insert.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id,omitempty"`
	Role           Role        `json:"role"`
	Content        string      `json:"content"`
	Annotation     *Annotation `json:"annotation,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// FullConversation includes the conversation metadata and all its messages.
type FullConversation struct {
	Conversation
	Messages []Message `json:"messages"`
}

// EventKind distinguishes change-feed notifications.
type EventKind string

const (
	EventInsert EventKind = "insert"
	EventUpdate EventKind = "update"
)

// ChangeEvent is one change-feed notification. Delivery is at-least-once and
// unordered across distinct rows; consumers must deduplicate by Row.ID.
type ChangeEvent struct {
	Kind EventKind `json:"kind"`
	Row  Message   `json:"row"`
}
