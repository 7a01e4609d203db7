package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultRetryBackoff    = 1500 * time.Millisecond
	defaultTimeout         = 8 * time.Minute
	defaultMaxOutputBytes  = 8 * 1024 * 1024
	defaultMaxOutputTokens = 2048
)

// ClientConfig is shared by the Responses and Chat clients.
type ClientConfig struct {
	Endpoint        string
	Model           string
	ReasoningEffort string
	AuthToken       string
	Timeout         time.Duration
	// Retries is the number of extra attempts after a transient failure.
	Retries         int
	RetryBackoff    time.Duration
	MaxOutputBytes  int
	MaxOutputTokens int
	Instructions    string
	Logger          *log.Logger
	Client          *http.Client
}

func (c ClientConfig) withDefaults() ClientConfig {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.Model = strings.TrimSpace(c.Model)
	c.AuthToken = strings.TrimSpace(c.AuthToken)
	c.Instructions = strings.TrimSpace(c.Instructions)
	c.ReasoningEffort = normalizeReasoningEffort(c.ReasoningEffort)
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = defaultMaxOutputBytes
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = defaultMaxOutputTokens
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: c.Timeout}
	}
	return c
}

func (c ClientConfig) validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("llm endpoint is required")
	}
	if _, err := url.ParseRequestURI(c.Endpoint); err != nil {
		return fmt.Errorf("parse llm endpoint %q: %w", c.Endpoint, err)
	}
	if c.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	return nil
}

// transport is the HTTP half every client shares: one JSON POST per attempt
// and the retry policy around it.
type transport struct {
	cfg  ClientConfig
	kind string
}

func newTransport(kind string, cfg ClientConfig) (transport, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return transport{}, err
	}
	return transport{cfg: cfg, kind: kind}, nil
}

func (t transport) generate(ctx context.Context, attempt func() (string, error)) (string, error) {
	started := time.Now()
	out, err := withRetries(ctx, t.cfg.Retries, t.cfg.RetryBackoff, func(n int, wait time.Duration, err error) {
		t.cfg.Logger.Printf("llm retry kind=%s model=%s attempt=%d wait=%s: %v", t.kind, t.cfg.Model, n, wait, err)
	}, attempt)
	if err != nil {
		return "", err
	}
	t.cfg.Logger.Printf("llm call kind=%s model=%s elapsed=%s", t.kind, t.cfg.Model, time.Since(started).Round(time.Millisecond))
	return out, nil
}

// postJSON sends payload and returns the body of a 2xx response. Any other
// status is turned into an apiHTTPError.
func (t transport) postJSON(ctx context.Context, payload any) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", t.kind, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", t.kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.cfg.AuthToken)
	}
	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", t.kind, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, readErrorBody(resp)
	}
	return resp.Body, nil
}
