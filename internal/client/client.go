// Package client talks to the orchestrator HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"organ_report/internal/domain"
)

var ErrStreamInterrupted = errors.New("stream ended before the task finished")

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for baseURL. A nil httpClient gets a 10s timeout;
// streams never use a client timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Health(ctx context.Context) error {
	var out map[string]any
	return c.do(ctx, http.MethodGet, "/healthz", nil, &out)
}

// WaitHealth polls /healthz until it answers or timeout passes.
func (c *Client) WaitHealth(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := c.Health(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for /healthz: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(400 * time.Millisecond):
		}
	}
}

func (c *Client) CreateTask(ctx context.Context, prompt string) (string, error) {
	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/tasks", map[string]string{"prompt": prompt}, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", errors.New("server returned an empty task id")
	}
	return out.TaskID, nil
}

func (c *Client) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	var out domain.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(taskID), nil, &out); err != nil {
		return domain.Task{}, err
	}
	return out, nil
}

func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var out []domain.Task
	if err := c.do(ctx, http.MethodGet, "/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(taskID), nil, nil)
}

func (c *Client) ListTaskDecisions(ctx context.Context, taskID string, limit int) ([]domain.DecisionLog, error) {
	var out []domain.DecisionLog
	path := fmt.Sprintf("/tasks/%s/decisions?limit=%d", url.PathEscape(taskID), limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stream follows the task's event stream from event index from, calling
// onFrame for every frame. It returns the final snapshot, or
// ErrStreamInterrupted when the server closed the stream without one.
func (c *Client) Stream(ctx context.Context, taskID string, from int, onFrame func(domain.StreamFrame) error) (domain.Task, error) {
	path := "/tasks/" + url.PathEscape(taskID) + "/stream"
	if from > 0 {
		path += fmt.Sprintf("?from=%d", from)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return domain.Task{}, err
	}
	req.Header.Set("Accept", "text/event-stream")

	streaming := *c.http
	streaming.Timeout = 0
	resp, err := streaming.Do(req)
	if err != nil {
		return domain.Task{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return domain.Task{}, readAPIError(resp)
	}
	return readEventStream(resp.Body, onFrame)
}

// readEventStream decodes "data:" lines of a server-sent event stream.
func readEventStream(body io.Reader, onFrame func(domain.StreamFrame) error) (domain.Task, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var data strings.Builder
	flush := func() (*domain.Task, error) {
		if data.Len() == 0 {
			return nil, nil
		}
		payload := data.String()
		data.Reset()
		var frame domain.StreamFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return nil, fmt.Errorf("decode stream frame: %w", err)
		}
		if onFrame != nil {
			if err := onFrame(frame); err != nil {
				return nil, err
			}
		}
		if frame.IsFinal() {
			return frame.Task, nil
		}
		return nil, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			final, err := flush()
			if err != nil {
				return domain.Task{}, err
			}
			if final != nil {
				return *final, nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(payload, " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.Task{}, fmt.Errorf("read stream: %w", err)
	}
	final, err := flush()
	if err != nil {
		return domain.Task{}, err
	}
	if final != nil {
		return *final, nil
	}
	return domain.Task{}, ErrStreamInterrupted
}

func (c *Client) do(ctx context.Context, method, path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return readAPIError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
