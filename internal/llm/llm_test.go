package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalizeReasoningEffort(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty defaults to medium", in: "", want: "medium"},
		{name: "trim and lower", in: "  HIGH ", want: "high"},
		{name: "unsupported defaults to medium", in: "ultra", want: "medium"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeReasoningEffort(tc.in)
			if got != tc.want {
				t.Fatalf("normalizeReasoningEffort(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestReadResponsesStreamDelta(t *testing.T) {
	stream := strings.Join([]string{
		"event: response.created",
		`data: {"type":"response.created","response":{"id":"resp_1"}}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"VERDICT: ","sequence_number":1}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"APPROVED","sequence_number":2}`,
		"",
		"event: response.completed",
		`data: {"type":"response.completed","response":{"id":"resp_1","status":"completed"}}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	got, err := readResponsesStream(strings.NewReader(stream), 1024*1024)
	if err != nil {
		t.Fatalf("readResponsesStream returned error: %v", err)
	}
	if got != "VERDICT: APPROVED" {
		t.Fatalf("readResponsesStream returned %q", got)
	}
}

func TestReadResponsesStreamCompletedFallback(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"response.completed","response":{"output":[{"type":"message","content":[{"type":"output_text","text":"full text"}]}]}}`,
		"",
	}, "\n")

	got, err := readResponsesStream(strings.NewReader(stream), 1024*1024)
	if err != nil {
		t.Fatalf("readResponsesStream returned error: %v", err)
	}
	if got != "full text" {
		t.Fatalf("readResponsesStream returned %q", got)
	}
}

func TestReadResponsesStreamBlankOutput(t *testing.T) {
	stream := "data: {\"type\":\"response.output_text.delta\",\"delta\":\"  \\n\"}\n\ndata: [DONE]\n\n"
	got, err := readResponsesStream(strings.NewReader(stream), 1024)
	if err != nil || got != "" {
		t.Fatalf("got=%q err=%v, want empty text without error", got, err)
	}
}

func TestReadResponsesStreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		max    int
	}{
		{name: "too large", stream: fmt.Sprintf("data: {\"type\":\"response.output_text.delta\",\"delta\":%q}\n\n", strings.Repeat("x", 20)), max: 10},
		{name: "stream error", stream: "data: {\"type\":\"error\",\"error\":{\"message\":\"boom\"}}\n\n", max: 1024},
		{name: "bad json", stream: "data: {nope\n\n", max: 1024},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := readResponsesStream(strings.NewReader(tc.stream), tc.max); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestIsRetryableAPIError(t *testing.T) {
	if !isRetryableAPIError(apiHTTPError{statusCode: 429}) {
		t.Fatalf("429 should be retryable")
	}
	if !isRetryableAPIError(apiHTTPError{statusCode: 502}) {
		t.Fatalf("5xx should be retryable")
	}
	if isRetryableAPIError(apiHTTPError{statusCode: 400}) {
		t.Fatalf("400 should not be retryable")
	}
	if isRetryableAPIError(errors.New("plain error")) {
		t.Fatalf("plain error should not be retryable")
	}
}

func TestParseChatResponse(t *testing.T) {
	got, err := parseChatResponse([]byte(`{"choices":[{"message":{"role":"assistant","content":"  hello \n"}}]}`))
	if err != nil {
		t.Fatalf("parseChatResponse: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
	if _, err := parseChatResponse([]byte(`{"choices":[]}`)); err == nil {
		t.Fatalf("expected error for no choices")
	}
	got, err = parseChatResponse([]byte(`{"choices":[{"message":{"content":"  "}}]}`))
	if err != nil || got != "" {
		t.Fatalf("blank content: got=%q err=%v", got, err)
	}
}

func TestChatClientAgainstServer(t *testing.T) {
	var gotReq chatRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"answer"}}]}`)
	}))
	defer srv.Close()

	client, err := NewChatClient(ClientConfig{
		Endpoint:  srv.URL,
		Model:     "llama-3.1-8b-instant",
		AuthToken: "secret",
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new chat client: %v", err)
	}
	got, err := client.Generate(context.Background(), "question")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "answer" {
		t.Fatalf("got %q", got)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization=%q", gotAuth)
	}
	if gotReq.Model != "llama-3.1-8b-instant" || gotReq.MaxTokens != 2048 {
		t.Fatalf("request=%+v", gotReq)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "question" {
		t.Fatalf("messages=%+v", gotReq.Messages)
	}
}

func TestResponsesClientAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req responsesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !req.Stream || len(req.Input) != 1 || req.Input[0].Content[0].Text != "hi" {
			t.Errorf("unexpected request %+v", req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"hello\"}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	gen, err := New(WireAPIResponses, ClientConfig{Endpoint: srv.URL, Model: "m", Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := gen.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestNoRetryByDefault(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewChatClient(ClientConfig{Endpoint: srv.URL, Model: "m", Logger: log.New(io.Discard, "", 0)})
	if err != nil {
		t.Fatalf("new chat client: %v", err)
	}
	_, err = client.Generate(context.Background(), "q")
	if code, ok := StatusCode(err); !ok || code != http.StatusServiceUnavailable {
		t.Fatalf("err=%v, want status 503", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls=%d want=1", got)
	}
}

func TestConfiguredRetriesRecoverTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	}))
	defer srv.Close()

	client, err := NewChatClient(ClientConfig{
		Endpoint:     srv.URL,
		Model:        "m",
		Retries:      2,
		RetryBackoff: time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("new chat client: %v", err)
	}
	got, err := client.Generate(context.Background(), "q")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "ok" || atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("got=%q calls=%d", got, calls)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New("carrier-pigeon", ClientConfig{Endpoint: "http://x", Model: "m"}); err == nil {
		t.Fatalf("expected unsupported wire api error")
	}
	if _, err := New(WireAPIChat, ClientConfig{Endpoint: "", Model: "m"}); err == nil {
		t.Fatalf("expected empty endpoint error")
	}
	if _, err := New(WireAPIChat, ClientConfig{Endpoint: "http://x", Model: " "}); err == nil {
		t.Fatalf("expected empty model error")
	}
}
