package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"organ_report/internal/agent"
	"organ_report/internal/domain"
	"organ_report/internal/messaging/inproc"
	"organ_report/internal/store/memory"
	sqlitestore "organ_report/internal/store/sqlite"
)

// fakeLLM answers by role, recognised from the prompt preamble each agent
// sends.
type fakeLLM struct {
	mu       sync.Mutex
	calls    map[string]int
	verdicts []string
	fail     map[string]error

	gate     chan struct{}
	gateOnce sync.Once
}

func newFakeLLM(verdicts ...string) *fakeLLM {
	return &fakeLLM{
		calls:    make(map[string]int),
		verdicts: verdicts,
		fail:     make(map[string]error),
	}
}

// holdPlanner makes the planner call block until release is called.
func (f *fakeLLM) holdPlanner() {
	f.gate = make(chan struct{})
}

func (f *fakeLLM) release() {
	if f.gate == nil {
		return
	}
	f.gateOnce.Do(func() { close(f.gate) })
}

func (f *fakeLLM) count(role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	role := roleOf(prompt)
	if role == "planner" && f.gate != nil {
		<-f.gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[role]++
	n := f.calls[role]
	if err := f.fail[role]; err != nil {
		return "", err
	}
	switch role {
	case "planner":
		return `Plan: ["Research solar costs","Research wind costs"]`, nil
	case "researcher":
		return fmt.Sprintf("research notes %d", n), nil
	case "writer":
		return fmt.Sprintf("draft %d", n), nil
	case "reviewer":
		verdict := "APPROVED"
		if n-1 < len(f.verdicts) {
			verdict = f.verdicts[n-1]
		}
		return fmt.Sprintf("VERDICT: %s\nFEEDBACK: feedback %d", verdict, n), nil
	}
	return "", errors.New("unexpected prompt")
}

func roleOf(prompt string) string {
	switch {
	case strings.HasPrefix(prompt, "You are a task planner"):
		return "planner"
	case strings.HasPrefix(prompt, "You are an expert researcher"):
		return "researcher"
	case strings.HasPrefix(prompt, "You are a professional technical writer"):
		return "writer"
	case strings.HasPrefix(prompt, "You are a critical quality reviewer"):
		return "reviewer"
	}
	return "unknown"
}

type harness struct {
	svc       *Service
	store     *memory.Store
	hub       *inproc.Hub
	decisions *sqlitestore.Store
	llm       *fakeLLM
}

func newHarness(t *testing.T, gen *fakeLLM, cfg Config) *harness {
	t.Helper()
	return newHarnessWithAgents(t, gen, cfg, nil)
}

func newHarnessWithAgents(t *testing.T, gen *fakeLLM, cfg Config, override func(*Agents)) *harness {
	t.Helper()
	decisions, err := sqlitestore.Open(sqlitestore.MemoryDSN)
	if err != nil {
		t.Fatalf("open decision log: %v", err)
	}
	if err := decisions.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := log.New(io.Discard, "", 0)
	agentCfg := agent.Config{Generator: gen, Logger: logger}
	agents := Agents{
		Planner:    agent.NewPlanner(agentCfg),
		Researcher: agent.NewResearcher(agentCfg),
		Writer:     agent.NewWriter(agentCfg),
		Reviewer:   agent.NewReviewer(agentCfg, domain.VerdictApproved),
	}
	if override != nil {
		override(&agents)
	}

	store := memory.New()
	hub := inproc.New()
	svc, err := New(store, decisions, hub, agents, cfg, logger)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	svc.Start(runCtx)
	t.Cleanup(func() {
		gen.release()
		cancel()
		svc.Wait()
		_ = decisions.Close()
	})
	return &harness{svc: svc, store: store, hub: hub, decisions: decisions, llm: gen}
}

func waitTerminal(t *testing.T, svc *Service, taskID string, timeout time.Duration) domain.Task {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := svc.GetTask(context.Background(), taskID)
		if err != nil {
			t.Fatalf("get task: %v", err)
		}
		if task.Status.IsTerminal() {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish within %s", taskID, timeout)
	return domain.Task{}
}

func waitStatus(t *testing.T, svc *Service, taskID string, want domain.TaskStatus, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		task, err := svc.GetTask(context.Background(), taskID)
		if err == nil && task.Status == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("task %s never reached %s", taskID, want)
}

func collectFrames(t *testing.T, frames <-chan domain.StreamFrame, timeout time.Duration) []domain.StreamFrame {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var out []domain.StreamFrame
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, frame)
		case <-timer.C:
			t.Fatalf("stream did not close within %s (got %d frames)", timeout, len(out))
		}
	}
}

func historyAgents(task domain.Task) []string {
	out := make([]string, 0, len(task.AgentHistory))
	for _, r := range task.AgentHistory {
		out = append(out, r.Agent)
	}
	return out
}

func countMessages(task domain.Task, message string) int {
	n := 0
	for _, ev := range task.Events {
		if ev.Message == message {
			n++
		}
	}
	return n
}
