package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const defaultReasoningEffort = "medium"

// ResponsesClient talks to an OpenAI Responses-compatible endpoint with
// streaming enabled and returns the concatenated output text.
type ResponsesClient struct {
	transport
}

func NewResponsesClient(cfg ClientConfig) (*ResponsesClient, error) {
	t, err := newTransport(WireAPIResponses, cfg)
	if err != nil {
		return nil, err
	}
	return &ResponsesClient{transport: t}, nil
}

func (c *ResponsesClient) Generate(ctx context.Context, prompt string) (string, error) {
	return c.generate(ctx, func() (string, error) {
		body, err := c.postJSON(ctx, c.request(prompt))
		if err != nil {
			return "", err
		}
		defer body.Close()
		text, err := readResponsesStream(body, c.cfg.MaxOutputBytes)
		if err != nil {
			return "", fmt.Errorf("read responses stream: %w", err)
		}
		return text, nil
	})
}

func (c *ResponsesClient) request(prompt string) responsesRequest {
	req := responsesRequest{
		Model:           c.cfg.Model,
		Instructions:    c.cfg.Instructions,
		Stream:          true,
		MaxOutputTokens: c.cfg.MaxOutputTokens,
		Input: []responsesTurn{{
			Role:    "user",
			Content: []responsesPart{{Type: "input_text", Text: prompt}},
		}},
	}
	if c.cfg.ReasoningEffort != "none" {
		req.Reasoning = &responsesReasoning{Effort: c.cfg.ReasoningEffort}
	}
	return req
}

func normalizeReasoningEffort(value string) string {
	switch effort := strings.ToLower(strings.TrimSpace(value)); effort {
	case "none", "low", "medium", "high":
		return effort
	default:
		return defaultReasoningEffort
	}
}

// responsesCollector accumulates output text from stream chunks. Deltas win;
// the text inside response.completed is only used when no delta arrived.
type responsesCollector struct {
	limit int
	text  strings.Builder
}

func (c *responsesCollector) add(s string) error {
	if c.text.Len()+len(s) > c.limit {
		return fmt.Errorf("responses output exceeds %d bytes", c.limit)
	}
	c.text.WriteString(s)
	return nil
}

func (c *responsesCollector) handle(data string) error {
	if data == "" || data == "[DONE]" {
		return nil
	}
	var chunk responsesChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return fmt.Errorf("decode responses chunk: %w", err)
	}
	if chunk.Error != nil {
		return fmt.Errorf("responses stream error: %s", chunk.Error.Message)
	}
	if chunk.Response != nil && chunk.Response.Error != nil {
		return fmt.Errorf("responses completion error: %s", chunk.Response.Error.Message)
	}

	switch chunk.Type {
	case "response.output_text.delta":
		return c.add(chunk.Delta)
	case "response.completed":
		if c.text.Len() > 0 || chunk.Response == nil {
			return nil
		}
		return c.add(chunk.Response.text())
	}
	return nil
}

// readResponsesStream parses an SSE body: "data:" lines of one event are
// joined and dispatched on the blank line that ends the event.
func readResponsesStream(body io.Reader, maxBytes int) (string, error) {
	collector := &responsesCollector{limit: maxBytes}
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBytes+64*1024)

	var pending []string
	flush := func() error {
		data := strings.TrimSpace(strings.Join(pending, "\n"))
		pending = pending[:0]
		return collector.handle(data)
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return "", err
			}
		case strings.HasPrefix(line, "data:"):
			pending = append(pending, strings.TrimSpace(line[len("data:"):]))
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	if err := flush(); err != nil {
		return "", err
	}

	return strings.TrimSpace(collector.text.String()), nil
}

type responsesRequest struct {
	Model           string              `json:"model"`
	Instructions    string              `json:"instructions,omitempty"`
	Stream          bool                `json:"stream"`
	Reasoning       *responsesReasoning `json:"reasoning,omitempty"`
	Input           []responsesTurn     `json:"input"`
	MaxOutputTokens int                 `json:"max_output_tokens,omitempty"`
}

type responsesReasoning struct {
	Effort string `json:"effort"`
}

type responsesTurn struct {
	Role    string          `json:"role"`
	Content []responsesPart `json:"content"`
}

// responsesPart is used for both input_text and output_text parts.
type responsesPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responsesChunk struct {
	Type     string             `json:"type"`
	Delta    string             `json:"delta,omitempty"`
	Response *responsesSnapshot `json:"response,omitempty"`
	Error    *apiErrorBody      `json:"error,omitempty"`
}

type responsesSnapshot struct {
	Error  *apiErrorBody `json:"error,omitempty"`
	Output []struct {
		Type    string          `json:"type"`
		Content []responsesPart `json:"content,omitempty"`
	} `json:"output,omitempty"`
}

func (r *responsesSnapshot) text() string {
	var b strings.Builder
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

// apiErrorBody is the error object both OpenAI-style APIs embed in payloads.
type apiErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}
