package llm

import (
	"context"

	"attune/backend/internal/model"
)

// Provider defines the interface for interacting with a language model.
type Provider interface {
	// Reply generates the counselor's answer for a conversation history.
	Reply(ctx context.Context, modelName, systemPrompt string, history []model.Message) (string, error)
	// Score rates the tension of one user message on a 1-5 scale.
	Score(ctx context.Context, modelName, content string) (int, error)
}
