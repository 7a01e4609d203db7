package domain

import (
	"encoding/json"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusPlanning    TaskStatus = "planning"
	TaskStatusResearching TaskStatus = "researching"
	TaskStatusWriting     TaskStatus = "writing"
	TaskStatusReviewing   TaskStatus = "reviewing"
	TaskStatusRevising    TaskStatus = "revising"
	TaskStatusDone        TaskStatus = "done"
	TaskStatusError       TaskStatus = "error"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusDone || s == TaskStatusError
}

// IsWorking reports whether an agent is expected to be executing in s.
func (s TaskStatus) IsWorking() bool {
	switch s {
	case TaskStatusPlanning, TaskStatusResearching, TaskStatusWriting, TaskStatusReviewing, TaskStatusRevising:
		return true
	}
	return false
}

type ResultStatus string

const (
	ResultStatusDone          ResultStatus = "done"
	ResultStatusApproved      ResultStatus = "approved"
	ResultStatusNeedsRevision ResultStatus = "needs_revision"
)

type Verdict string

const (
	VerdictApproved      Verdict = "APPROVED"
	VerdictNeedsRevision Verdict = "NEEDS_REVISION"
)

// Event is one append-only progress record of a task.
type Event struct {
	Agent   string `json:"agent"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type AgentResult struct {
	Agent    string       `json:"agent"`
	Status   ResultStatus `json:"status"`
	Output   any          `json:"output"`
	Feedback *string      `json:"feedback,omitempty"`
}

// Task is a point-in-time snapshot of one orchestration run.
type Task struct {
	ID           string            `json:"id"`
	Prompt       string            `json:"prompt"`
	Status       TaskStatus        `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CurrentAgent *string           `json:"current_agent"`
	Events       []Event           `json:"events"`
	Plan         []string          `json:"plan"`
	Research     map[string]string `json:"research"`
	Draft        *string           `json:"draft"`
	Feedback     *string           `json:"feedback"`
	FinalReport  *string           `json:"final_report"`
	AgentHistory []AgentResult     `json:"agent_history"`
	Error        *string           `json:"error"`
}

const FrameTypeDone = "done"

// StreamFrame is one unit delivered to a stream reader: either a single
// event or the closing snapshot.
type StreamFrame struct {
	Event *Event
	Task  *Task
}

// IsFinal reports whether the frame carries the terminal snapshot.
func (f StreamFrame) IsFinal() bool {
	return f.Task != nil
}

func (f StreamFrame) MarshalJSON() ([]byte, error) {
	if f.Task != nil {
		return json.Marshal(struct {
			Type string `json:"type"`
			Task *Task  `json:"task"`
		}{Type: FrameTypeDone, Task: f.Task})
	}
	if f.Event != nil {
		return json.Marshal(f.Event)
	}
	return []byte("null"), nil
}

func (f *StreamFrame) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
		Task *Task  `json:"task"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if probe.Type == FrameTypeDone && probe.Task != nil {
		*f = StreamFrame{Task: probe.Task}
		return nil
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	*f = StreamFrame{Event: &ev}
	return nil
}

type DecisionLog struct {
	ID        int64           `json:"id"`
	TaskID    string          `json:"task_id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
