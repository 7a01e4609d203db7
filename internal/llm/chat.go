package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"organ_report/internal/textutil"
)

// ChatClient talks to an OpenAI-compatible /chat/completions endpoint
// (OpenAI, Groq, local servers) without streaming.
type ChatClient struct {
	transport
}

func NewChatClient(cfg ClientConfig) (*ChatClient, error) {
	t, err := newTransport(WireAPIChat, cfg)
	if err != nil {
		return nil, err
	}
	return &ChatClient{transport: t}, nil
}

func (c *ChatClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, func() (string, error) {
		body, err := c.postJSON(ctx, c.request(prompt))
		if err != nil {
			return "", err
		}
		defer body.Close()

		limit := c.cfg.MaxOutputBytes
		raw, err := io.ReadAll(io.LimitReader(body, int64(limit)+1))
		if err != nil {
			return "", fmt.Errorf("read chat response: %w", err)
		}
		if len(raw) > limit {
			return "", fmt.Errorf("chat output exceeds %d bytes", limit)
		}
		return parseChatResponse(raw)
	})
}

func (c *ChatClient) request(prompt string) chatRequest {
	messages := make([]chatMessage, 0, 2)
	if c.cfg.Instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: c.cfg.Instructions})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})
	return chatRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		MaxTokens: c.cfg.MaxOutputTokens,
	}
}

func parseChatResponse(raw []byte) (string, error) {
	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w; body: %s", err, textutil.Truncate(string(raw), 400))
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("chat completion error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiErrorBody `json:"error,omitempty"`
}
