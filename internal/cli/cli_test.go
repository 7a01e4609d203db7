package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"organ_report/internal/domain"
)

const doneTask = `{"id":"t1","prompt":"Compare solar and wind energy","status":"done","current_agent":null,` +
	`"events":[{"agent":"Planner","message":"Created 2 sub-tasks","data":["Research solar costs","Research wind costs"]}],` +
	`"plan":["Research solar costs","Research wind costs"],"final_report":"# Solar vs Wind","agent_history":[]}`

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tasks":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"task_id":"t1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/tasks":
			_, _ = w.Write([]byte(`[` + doneTask + `]`))
		case r.Method == http.MethodGet && r.URL.Path == "/tasks/t1":
			_, _ = w.Write([]byte(doneTask))
		case r.Method == http.MethodGet && r.URL.Path == "/tasks/t1/stream":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"agent\":\"Planner\",\"message\":\"Created 2 sub-tasks\",\"data\":[\"Research solar costs\",\"Research wind costs\"]}\n\n")
			fmt.Fprint(w, "data: {\"agent\":\"Orchestrator\",\"message\":\"Task completed successfully!\"}\n\n")
			fmt.Fprint(w, "data: {\"type\":\"done\",\"task\":"+doneTask+"}\n\n")
		case r.Method == http.MethodGet && r.URL.Path == "/tasks/bad/stream":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "data: {\"agent\":\"Orchestrator\",\"message\":\"Error: boom\"}\n\n")
			fmt.Fprint(w, "data: {\"type\":\"done\",\"task\":{\"id\":\"bad\",\"status\":\"error\",\"error\":\"boom\",\"events\":[]}}\n\n")
		case r.Method == http.MethodGet && r.URL.Path == "/tasks/t1/decisions":
			if r.URL.Query().Get("limit") != "5" {
				t.Errorf("limit=%q", r.URL.Query().Get("limit"))
			}
			_, _ = w.Write([]byte(`[{"id":2,"task_id":"t1","actor":"Orchestrator","action":"task_done","reason":"final report accepted","payload":{},"created_at":"2026-01-01T10:00:00Z"}]`))
		case r.Method == http.MethodDelete && r.URL.Path == "/tasks/t1":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/tasks/busy":
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"task is still running"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"task not found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSubmitPrintsTaskID(t *testing.T) {
	srv := fakeAPI(t)
	out, err := run(t, srv, "submit", "Compare", "solar", "and", "wind", "energy")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if strings.TrimSpace(out) != "t1" {
		t.Fatalf("out=%q", out)
	}
}

func TestSubmitFollowStreamsAndPrintsReport(t *testing.T) {
	srv := fakeAPI(t)
	out, err := run(t, srv, "submit", "--follow", "Compare solar and wind energy")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, want := range []string{"Created 2 sub-tasks", "Research wind costs", "Task completed successfully!", "done", "# Solar vs Wind"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestStreamFailedTaskReturnsError(t *testing.T) {
	srv := fakeAPI(t)
	out, err := run(t, srv, "stream", "bad")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err=%v", err)
	}
	if !strings.Contains(out, "Error: boom") {
		t.Fatalf("out=%q", out)
	}
}

func TestStreamUnknownTask(t *testing.T) {
	srv := fakeAPI(t)
	_, err := run(t, srv, "stream", "missing")
	if err == nil || !strings.Contains(err.Error(), "task not found") {
		t.Fatalf("err=%v", err)
	}
}

func TestGetOutputFormats(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, srv, "get", "t1", "-o", "json")
	if err != nil {
		t.Fatalf("get json: %v", err)
	}
	var task domain.Task
	if err := json.Unmarshal([]byte(out), &task); err != nil {
		t.Fatalf("decode json output: %v\n%s", err, out)
	}
	if task.ID != "t1" || task.Status != domain.TaskStatusDone {
		t.Fatalf("task=%+v", task)
	}

	out, err = run(t, srv, "get", "t1", "-o", "yaml")
	if err != nil {
		t.Fatalf("get yaml: %v", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("decode yaml output: %v\n%s", err, out)
	}
	if doc["final_report"] != "# Solar vs Wind" || doc["status"] != "done" {
		t.Fatalf("yaml=%v", doc)
	}

	out, err = run(t, srv, "get", "t1")
	if err != nil {
		t.Fatalf("get text: %v", err)
	}
	if !strings.Contains(out, "1. Research solar costs") || !strings.Contains(out, "# Solar vs Wind") {
		t.Fatalf("text=%s", out)
	}

	if _, err := run(t, srv, "get", "t1", "-o", "xml"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestListDeleteDecisions(t *testing.T) {
	srv := fakeAPI(t)

	out, err := run(t, srv, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "STATUS") || !strings.Contains(out, "t1") {
		t.Fatalf("list=%s", out)
	}

	out, err = run(t, srv, "decisions", "t1", "--limit", "5")
	if err != nil {
		t.Fatalf("decisions: %v", err)
	}
	if !strings.Contains(out, "task_done") {
		t.Fatalf("decisions=%s", out)
	}

	if out, err = run(t, srv, "delete", "t1"); err != nil || !strings.Contains(out, "Deleted t1") {
		t.Fatalf("delete out=%q err=%v", out, err)
	}
	if _, err = run(t, srv, "delete", "busy"); err == nil || !strings.Contains(err.Error(), "still running") {
		t.Fatalf("delete busy err=%v", err)
	}
}

func TestFormatAge(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{name: "just now", duration: 30 * time.Second, want: "just now"},
		{name: "minutes", duration: 5 * time.Minute, want: "5m ago"},
		{name: "hours", duration: 3 * time.Hour, want: "3h ago"},
		{name: "days", duration: 50 * time.Hour, want: "2d ago"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := formatAge(time.Now().Add(-tc.duration)); got != tc.want {
				t.Fatalf("got=%q want=%q", got, tc.want)
			}
		})
	}
	if formatAge(time.Time{}) != "-" {
		t.Fatalf("zero time should render as -")
	}
}
