package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"attune/backend/internal/model"
)

const scorePrompt = "You rate the emotional tension of a message from someone " +
	"describing a relationship issue. Respond with a JSON object of the form " +
	`{"score": N} where N is an integer from 1 (calm) to 5 (very angry). ` +
	"Respond with the JSON object and nothing else."

type openAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider builds a Provider backed by an OpenAI-compatible API.
// An empty baseURL means the official endpoint.
func NewOpenAIProvider(apiKey, baseURL string) Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &openAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *openAIProvider) Reply(ctx context.Context, modelName, systemPrompt string, history []model.Message) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(msg.Role),
			Content: msg.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openAIProvider) Score(ctx context.Context, modelName, content string) (int, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scorePrompt},
			{Role: openai.ChatMessageRoleUser, Content: content},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("score completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return 0, fmt.Errorf("score completion returned no choices")
	}

	var parsed struct {
		Score int `json:"score"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return 0, fmt.Errorf("could not parse score response %q: %w", resp.Choices[0].Message.Content, err)
	}

	// Clamp out-of-range model output instead of failing the analysis.
	if parsed.Score < 1 {
		parsed.Score = 1
	}
	if parsed.Score > 5 {
		parsed.Score = 5
	}
	return parsed.Score, nil
}

func chatRole(role model.Role) string {
	switch role {
	case model.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case model.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
