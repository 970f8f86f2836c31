// Package client is the HTTP adapter between the reconciliation engine and
// the server API: history and recent reads, the submission endpoint, and the
// SSE change feed.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	gosync "sync"

	"attune/backend/internal/model"
	"attune/backend/internal/sync"
)

// Client implements sync.Store, sync.Endpoint and sync.Feed against the
// attune server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{},
	}
}

func (c *Client) History(ctx context.Context, conversationID string) ([]model.Message, error) {
	url := fmt.Sprintf("%s/api/v1/conversations/%s/messages", c.baseURL, conversationID)
	var messages []model.Message
	if err := c.getJSON(ctx, url, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) Recent(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	url := fmt.Sprintf("%s/api/v1/conversations/%s/messages?limit=%d", c.baseURL, conversationID, limit)
	var messages []model.Message
	if err := c.getJSON(ctx, url, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (c *Client) Send(ctx context.Context, conversationID, content string) (*sync.SendResult, error) {
	payload, err := json.Marshal(map[string]string{
		"conversation_id": conversationID,
		"content":         content,
	})
	if err != nil {
		return nil, fmt.Errorf("could not marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submission request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("submission returned status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	var result sync.SendResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("could not decode submission response: %w", err)
	}
	return &result, nil
}

// Subscribe opens the SSE event stream and invokes onEvent for every change
// event until the stream ends or cancel is called. Cancel is idempotent.
func (c *Client) Subscribe(ctx context.Context, conversationID string, onEvent func(model.ChangeEvent)) (func(), error) {
	ctx, cancelCtx := context.WithCancel(ctx)

	url := fmt.Sprintf("%s/api/v1/conversations/%s/events", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancelCtx()
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		cancelCtx()
		return nil, fmt.Errorf("event stream request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body := readBody(resp.Body)
		resp.Body.Close()
		cancelCtx()
		return nil, fmt.Errorf("event stream returned status %d: %s", resp.StatusCode, body)
	}

	go func() {
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			data, ok := strings.CutPrefix(line, "data: ")
			if !ok {
				continue
			}
			var event model.ChangeEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}
			onEvent(event)
		}
	}()

	var once gosync.Once
	return func() {
		once.Do(cancelCtx)
	}, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request returned status %d: %s", resp.StatusCode, readBody(resp.Body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func readBody(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	return string(bytes.TrimSpace(body))
}
