package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"organ_report/internal/agent"
	"organ_report/internal/domain"
	"organ_report/internal/store/memory"
	"organ_report/internal/task"
	"organ_report/internal/textutil"
)

const orchestratorActor = "Orchestrator"

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskRunning  = errors.New("task is still running")
	ErrEmptyPrompt  = errors.New("prompt is required")
)

// DecisionLog receives an audit trail of every run. Writes are best effort.
type DecisionLog interface {
	LogDecision(ctx context.Context, entry domain.DecisionLog) error
	ListTaskDecisions(ctx context.Context, taskID string, limit int) ([]domain.DecisionLog, error)
	DeleteTaskDecisions(ctx context.Context, taskID string) (int64, error)
}

// Hub wakes stream readers when a record changes.
type Hub interface {
	Subscribe(taskID string) (<-chan struct{}, func())
	Publish(taskID string)
}

// Agents is the fixed pipeline. All four must be set.
type Agents struct {
	Planner    agent.Agent
	Researcher agent.Agent
	Writer     agent.Agent
	Reviewer   agent.Agent
}

func (a Agents) validate() error {
	missing := make([]string, 0, 4)
	if a.Planner == nil {
		missing = append(missing, "planner")
	}
	if a.Researcher == nil {
		missing = append(missing, "researcher")
	}
	if a.Writer == nil {
		missing = append(missing, "writer")
	}
	if a.Reviewer == nil {
		missing = append(missing, "reviewer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("agents not configured: %s", strings.Join(missing, ", "))
	}
	return nil
}

type Config struct {
	// PollInterval bounds how long a stream reader sleeps without a push
	// notification before it rechecks the record.
	PollInterval time.Duration
	// TaskTTL > 0 lets the janitor drop terminal tasks older than TTL.
	TaskTTL         time.Duration
	JanitorInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 300 * time.Millisecond
	}
	if c.JanitorInterval <= 0 {
		c.JanitorInterval = time.Minute
	}
	if c.TaskTTL < 0 {
		c.TaskTTL = 0
	}
	return c
}

type Service struct {
	store     *memory.Store
	decisions DecisionLog
	hub       Hub
	agents    Agents
	cfg       Config
	logger    *log.Logger

	wg sync.WaitGroup
}

func New(store *memory.Store, decisions DecisionLog, hub Hub, agents Agents, cfg Config, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("task store is required")
	}
	if err := agents.validate(); err != nil {
		return nil, err
	}
	if decisions == nil {
		decisions = nopDecisionLog{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:     store,
		decisions: decisions,
		hub:       hub,
		agents:    agents,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}, nil
}

// Start launches background maintenance. Runs started by CreateTask do not
// depend on it.
func (s *Service) Start(ctx context.Context) {
	if s.cfg.TaskTTL <= 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.janitorLoop(ctx)
	}()
}

// Wait blocks until the janitor and every started run have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// CreateTask registers a new task and starts its run in the background.
// The run outlives ctx.
func (s *Service) CreateTask(ctx context.Context, prompt string) (domain.Task, error) {
	if strings.TrimSpace(prompt) == "" {
		return domain.Task{}, ErrEmptyPrompt
	}
	opts := make([]task.Option, 0, 1)
	if s.hub != nil {
		opts = append(opts, task.WithNotifier(s.hub))
	}
	rec := task.New(uuid.NewString(), prompt, opts...)
	s.store.Put(rec)
	snapshot := rec.Snapshot()

	_ = s.decisions.LogDecision(ctx, domain.DecisionLog{
		TaskID:  rec.ID(),
		Actor:   orchestratorActor,
		Action:  "task_created",
		Reason:  "task accepted",
		Payload: mustJSON(map[string]string{"prompt": prompt}),
	})
	s.logger.Printf("task created task=%s prompt=%q", rec.ID(), textutil.Truncate(prompt, 120))

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx, rec)
	}()
	return snapshot, nil
}

func (s *Service) GetTask(_ context.Context, taskID string) (domain.Task, error) {
	rec, ok := s.store.Get(taskID)
	if !ok {
		return domain.Task{}, ErrTaskNotFound
	}
	return rec.Snapshot(), nil
}

// ListTasks returns snapshots, newest first.
func (s *Service) ListTasks(_ context.Context) ([]domain.Task, error) {
	records := s.store.List()
	out := make([]domain.Task, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Snapshot())
	}
	return out, nil
}

// DeleteTask removes a finished task together with its decision log.
func (s *Service) DeleteTask(ctx context.Context, taskID string) error {
	rec, ok := s.store.Get(taskID)
	if !ok {
		return ErrTaskNotFound
	}
	if !rec.Status().IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTaskRunning, taskID, rec.Status())
	}
	if !s.store.Delete(taskID) {
		return ErrTaskNotFound
	}
	if _, err := s.decisions.DeleteTaskDecisions(ctx, taskID); err != nil {
		s.logger.Printf("delete decisions failed task=%s: %v", taskID, err)
	}
	if s.hub != nil {
		s.hub.Publish(taskID)
	}
	s.logger.Printf("task deleted task=%s", taskID)
	return nil
}

func (s *Service) ListTaskDecisions(ctx context.Context, taskID string, limit int) ([]domain.DecisionLog, error) {
	if _, ok := s.store.Get(taskID); !ok {
		return nil, ErrTaskNotFound
	}
	return s.decisions.ListTaskDecisions(ctx, taskID, limit)
}

func (s *Service) janitorLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx, time.Now().UTC())
		}
	}
}

// sweepOnce drops terminal tasks last updated before now-TTL.
func (s *Service) sweepOnce(ctx context.Context, now time.Time) []string {
	removed := s.store.SweepTerminal(now.Add(-s.cfg.TaskTTL))
	for _, id := range removed {
		if _, err := s.decisions.DeleteTaskDecisions(ctx, id); err != nil {
			s.logger.Printf("janitor delete decisions failed task=%s: %v", id, err)
		}
		if s.hub != nil {
			s.hub.Publish(id)
		}
	}
	if len(removed) > 0 {
		s.logger.Printf("janitor removed tasks count=%d", len(removed))
	}
	return removed
}

type nopDecisionLog struct{}

func (nopDecisionLog) LogDecision(context.Context, domain.DecisionLog) error { return nil }

func (nopDecisionLog) ListTaskDecisions(context.Context, string, int) ([]domain.DecisionLog, error) {
	return []domain.DecisionLog{}, nil
}

func (nopDecisionLog) DeleteTaskDecisions(context.Context, string) (int64, error) { return 0, nil }

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
