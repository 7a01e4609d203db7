// Package llm provides the text-generation collaborator used by agents.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	WireAPIResponses = "responses"
	WireAPIChat      = "chat"

	maxHTTPErrorBodyReadSize = 64 * 1024
)

// Generator turns a prompt into text. It may block for a long time and may
// fail. A blank reply is not an error; callers apply their own fallbacks.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GenerateFunc adapts a plain function to Generator.
type GenerateFunc func(ctx context.Context, prompt string) (string, error)

func (f GenerateFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// New builds the client for wireAPI; an empty wireAPI selects the Responses API.
func New(wireAPI string, cfg ClientConfig) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(wireAPI)) {
	case "", WireAPIResponses:
		return NewResponsesClient(cfg)
	case WireAPIChat, "chat_completions":
		return NewChatClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported wire api %q", wireAPI)
	}
}

type apiHTTPError struct {
	statusCode int
	body       string
}

func (e apiHTTPError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("llm api status=%d", e.statusCode)
	}
	return fmt.Sprintf("llm api status=%d body=%s", e.statusCode, e.body)
}

// StatusCode returns the HTTP status of err if it came from an API response.
func StatusCode(err error) (int, bool) {
	var statusErr apiHTTPError
	if errors.As(err, &statusErr) {
		return statusErr.statusCode, true
	}
	return 0, false
}

func isRetryableAPIError(err error) bool {
	var statusErr apiHTTPError
	if errors.As(err, &statusErr) {
		return statusErr.statusCode == http.StatusTooManyRequests || statusErr.statusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

func readErrorBody(resp *http.Response) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxHTTPErrorBodyReadSize))
	if readErr != nil {
		return fmt.Errorf("llm api status=%d and read body failed: %w", resp.StatusCode, readErr)
	}
	return apiHTTPError{
		statusCode: resp.StatusCode,
		body:       strings.TrimSpace(string(body)),
	}
}

// withRetries runs once and then up to retries more times for transient
// failures, waiting attempt*backoff in between.
func withRetries(ctx context.Context, retries int, backoff time.Duration, onRetry func(attempt int, wait time.Duration, err error), fn func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryableAPIError(err) || attempt == retries+1 {
			break
		}
		wait := time.Duration(attempt) * backoff
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if lastErr == nil {
		lastErr = errors.New("unknown generation error")
	}
	return "", lastErr
}
