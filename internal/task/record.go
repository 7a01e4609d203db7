// Package task holds the mutable state of one orchestration run.
//
// A Record has exactly one writer, the orchestrator goroutine driving the
// run, and any number of readers. Readers only ever see copies.
package task

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"organ_report/internal/domain"
)

var (
	ErrTerminal          = errors.New("task is already in a terminal state")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Notifier is told about every change of a record.
type Notifier interface {
	Publish(taskID string)
}

type Record struct {
	mu sync.RWMutex

	id           string
	prompt       string
	status       domain.TaskStatus
	createdAt    time.Time
	updatedAt    time.Time
	currentAgent string
	events       []domain.Event
	plan         []string
	research     map[string]string
	draft        *string
	feedback     *string
	finalReport  *string
	history      []domain.AgentResult
	errText      *string

	notifier Notifier
	clock    func() time.Time
}

type Option func(*Record)

func WithNotifier(n Notifier) Option {
	return func(r *Record) {
		r.notifier = n
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Record) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// New creates a record in PENDING status.
func New(id, prompt string, opts ...Option) *Record {
	r := &Record{
		id:     id,
		prompt: prompt,
		status: domain.TaskStatusPending,
		events: make([]domain.Event, 0, 16),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.createdAt = r.clock()
	r.updatedAt = r.createdAt
	return r
}

func (r *Record) ID() string {
	return r.id
}

func (r *Record) Prompt() string {
	return r.prompt
}

// CreatedAt is fixed when the record is built.
func (r *Record) CreatedAt() time.Time {
	return r.createdAt
}

func (r *Record) Status() domain.TaskStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Record) UpdatedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.updatedAt
}

func (r *Record) Plan() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.plan)
}

func (r *Record) Research() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.research)
}

func (r *Record) Draft() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.draft == nil {
		return ""
	}
	return *r.draft
}

func (r *Record) Feedback() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.feedback == nil {
		return ""
	}
	return *r.feedback
}

func (r *Record) SetPlan(plan []string) {
	r.mutate(func() {
		r.plan = slices.Clone(plan)
	})
}

func (r *Record) SetResearch(research map[string]string) {
	r.mutate(func() {
		r.research = maps.Clone(research)
	})
}

func (r *Record) SetDraft(draft string) {
	r.mutate(func() {
		r.draft = &draft
	})
}

func (r *Record) SetFeedback(feedback string) {
	r.mutate(func() {
		r.feedback = &feedback
	})
}

// Emit appends one progress event.
func (r *Record) Emit(agent, message string, data any) {
	r.mutate(func() {
		r.events = append(r.events, domain.Event{Agent: agent, Message: message, Data: data})
	})
}

func (r *Record) AppendResult(result domain.AgentResult) {
	r.mutate(func() {
		r.history = append(r.history, result)
	})
}

// Transition moves the record into a working status with agent executing.
func (r *Record) Transition(status domain.TaskStatus, agent string) error {
	if !status.IsWorking() {
		return fmt.Errorf("%w: %s is not a working status", ErrInvalidTransition, status)
	}
	var err error
	r.mutate(func() {
		if r.status.IsTerminal() {
			err = ErrTerminal
			return
		}
		if !allowedTransition(r.status, status) {
			err = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.status, status)
			return
		}
		r.status = status
		r.currentAgent = agent
	})
	return err
}

// Complete enters DONE, promoting the current draft to the final report.
func (r *Record) Complete(actor, message string) error {
	var err error
	r.mutate(func() {
		if r.status.IsTerminal() {
			err = ErrTerminal
			return
		}
		report := ""
		if r.draft != nil {
			report = *r.draft
		}
		r.finalReport = &report
		r.status = domain.TaskStatusDone
		r.currentAgent = ""
		r.events = append(r.events, domain.Event{Agent: actor, Message: message})
	})
	return err
}

// Fail enters ERROR. Partial artifacts are left in place.
func (r *Record) Fail(actor string, cause error) error {
	text := "unknown error"
	if cause != nil {
		text = cause.Error()
	}
	var err error
	r.mutate(func() {
		if r.status.IsTerminal() {
			err = ErrTerminal
			return
		}
		r.errText = &text
		r.status = domain.TaskStatusError
		r.currentAgent = ""
		r.events = append(r.events, domain.Event{Agent: actor, Message: "Error: " + text})
	})
	return err
}

// EventsSince returns the events past cursor together with the status
// observed under the same lock, so a terminal status is never reported
// ahead of events appended before it.
func (r *Record) EventsSince(cursor int) ([]domain.Event, domain.TaskStatus) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= len(r.events) {
		return nil, r.status
	}
	return slices.Clone(r.events[cursor:]), r.status
}

func (r *Record) EventCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// Snapshot returns a deep copy of the record.
func (r *Record) Snapshot() domain.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t := domain.Task{
		ID:           r.id,
		Prompt:       r.prompt,
		Status:       r.status,
		CreatedAt:    r.createdAt,
		UpdatedAt:    r.updatedAt,
		Events:       slices.Clone(r.events),
		Plan:         slices.Clone(r.plan),
		Research:     maps.Clone(r.research),
		Draft:        cloneString(r.draft),
		Feedback:     cloneString(r.feedback),
		FinalReport:  cloneString(r.finalReport),
		AgentHistory: slices.Clone(r.history),
		Error:        cloneString(r.errText),
	}
	if t.Events == nil {
		t.Events = []domain.Event{}
	}
	if t.AgentHistory == nil {
		t.AgentHistory = []domain.AgentResult{}
	}
	if r.currentAgent != "" {
		agent := r.currentAgent
		t.CurrentAgent = &agent
	}
	return t
}

func (r *Record) mutate(fn func()) {
	r.mu.Lock()
	fn()
	r.updatedAt = r.clock()
	r.mu.Unlock()
	if r.notifier != nil {
		r.notifier.Publish(r.id)
	}
}

func allowedTransition(from, to domain.TaskStatus) bool {
	switch to {
	case domain.TaskStatusPlanning:
		return from == domain.TaskStatusPending
	case domain.TaskStatusResearching:
		return from == domain.TaskStatusPlanning
	case domain.TaskStatusWriting:
		return from == domain.TaskStatusResearching
	case domain.TaskStatusReviewing:
		return from == domain.TaskStatusWriting || from == domain.TaskStatusRevising
	case domain.TaskStatusRevising:
		return from == domain.TaskStatusReviewing
	}
	return false
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
