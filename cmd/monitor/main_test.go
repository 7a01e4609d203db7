package main

import (
	"encoding/json"
	"strings"
	"testing"

	"organ_report/internal/domain"
)

func TestRenderReportPrefersFinal(t *testing.T) {
	final := "# Final"
	draft := "draft body"
	msg := "boom"

	tests := []struct {
		name string
		task domain.Task
		want string
	}{
		{name: "final", task: domain.Task{Status: domain.TaskStatusDone, Draft: &draft, FinalReport: &final}, want: "# Final"},
		{name: "error", task: domain.Task{Status: domain.TaskStatusError, Error: &msg}, want: "Task failed: boom"},
		{name: "draft", task: domain.Task{Status: domain.TaskStatusReviewing, Draft: &draft}, want: "(draft, reviewing)"},
		{name: "empty", task: domain.Task{Status: domain.TaskStatusPlanning}, want: "No report yet (planning)"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := renderReport(tc.task); !strings.Contains(got, tc.want) {
				t.Fatalf("got=%q want substring %q", got, tc.want)
			}
		})
	}
}

func TestRenderEventListsPlanItems(t *testing.T) {
	got := renderEvent(domain.Event{
		Agent:   "Planner",
		Message: "Created 2 sub-tasks",
		Data:    []any{"Research solar", "Research wind"},
	})
	for _, want := range []string{"Planner", "Created 2 sub-tasks", "- Research solar", "- Research wind"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in %q", want, got)
		}
	}
}

func TestDecisionPayloadSummary(t *testing.T) {
	if got := decisionPayloadSummary(json.RawMessage(`{}`)); got != "" {
		t.Fatalf("empty payload rendered %q", got)
	}
	got := decisionPayloadSummary(json.RawMessage(`{"to":"writing","from":"researching","agent":null}`))
	if got != "from=researching, to=writing" {
		t.Fatalf("got=%q", got)
	}
	if got := decisionPayloadSummary(json.RawMessage(`"plain"`)); got != `"plain"` {
		t.Fatalf("got=%q", got)
	}
}

func TestRenderDecisionsEmpty(t *testing.T) {
	if got := renderDecisions(nil); got != "No decisions" {
		t.Fatalf("got=%q", got)
	}
}

func TestShortID(t *testing.T) {
	if shortID("abc") != "abc" {
		t.Fatalf("short id changed")
	}
	if shortID("0123456789abcdef") != "01234567" {
		t.Fatalf("long id not trimmed")
	}
}

func TestChildArgs(t *testing.T) {
	args, err := childArgs("http://localhost:8123", "/tmp/config.toml")
	if err != nil {
		t.Fatalf("childArgs: %v", err)
	}
	want := []string{"-addr", ":8123", "-config", "/tmp/config.toml"}
	if strings.Join(args, " ") != strings.Join(want, " ") {
		t.Fatalf("args=%v want=%v", args, want)
	}
	if _, err := childArgs("http://localhost", ""); err == nil {
		t.Fatalf("expected error without explicit port")
	}
}

func TestResolveOrchestratorPrefersExplicitBinary(t *testing.T) {
	name, prefix := resolveOrchestrator("/opt/bin/orchestrator")
	if name != "/opt/bin/orchestrator" || len(prefix) != 0 {
		t.Fatalf("name=%q prefix=%v", name, prefix)
	}
}
