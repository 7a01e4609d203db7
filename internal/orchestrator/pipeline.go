package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"

	"organ_report/internal/agent"
	"organ_report/internal/domain"
	"organ_report/internal/task"
)

// maxReviewPasses caps reviewer invocations per task. The writer therefore
// revises at most maxReviewPasses-1 times.
const maxReviewPasses = 2

func (s *Service) run(ctx context.Context, rec *task.Record) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("run panic task=%s: %v\n%s", rec.ID(), r, debug.Stack())
			s.fail(ctx, rec, fmt.Errorf("internal error: %v", r))
		}
	}()

	if err := s.pipeline(ctx, rec); err != nil {
		s.fail(ctx, rec, err)
		return
	}
	s.complete(ctx, rec)
}

func (s *Service) pipeline(ctx context.Context, rec *task.Record) error {
	if _, err := s.step(ctx, rec, domain.TaskStatusPlanning, s.agents.Planner); err != nil {
		return err
	}
	if _, err := s.step(ctx, rec, domain.TaskStatusResearching, s.agents.Researcher); err != nil {
		return err
	}
	if _, err := s.step(ctx, rec, domain.TaskStatusWriting, s.agents.Writer); err != nil {
		return err
	}

	for pass := 1; ; pass++ {
		review, err := s.step(ctx, rec, domain.TaskStatusReviewing, s.agents.Reviewer)
		if err != nil {
			return err
		}
		if review.Status == domain.ResultStatusApproved {
			return nil
		}
		if pass >= maxReviewPasses {
			rec.Emit(orchestratorActor, "Revision budget exhausted, accepting current draft", nil)
			return nil
		}
		if err := s.transition(ctx, rec, domain.TaskStatusRevising, s.agents.Writer.Name()); err != nil {
			return err
		}
		rec.Emit(orchestratorActor, "Sending draft back for revision", nil)
		if _, err := s.invoke(ctx, rec, s.agents.Writer); err != nil {
			return err
		}
	}
}

// step enters status with a as current agent and runs it.
func (s *Service) step(ctx context.Context, rec *task.Record, status domain.TaskStatus, a agent.Agent) (domain.AgentResult, error) {
	if err := s.transition(ctx, rec, status, a.Name()); err != nil {
		return domain.AgentResult{}, err
	}
	return s.invoke(ctx, rec, a)
}

func (s *Service) transition(ctx context.Context, rec *task.Record, status domain.TaskStatus, agentName string) error {
	from := rec.Status()
	if err := rec.Transition(status, agentName); err != nil {
		return fmt.Errorf("enter %s: %w", status, err)
	}
	s.logger.Printf("task status task=%s from=%s to=%s agent=%s", rec.ID(), from, status, agentName)
	_ = s.decisions.LogDecision(ctx, domain.DecisionLog{
		TaskID: rec.ID(),
		Actor:  orchestratorActor,
		Action: "status_changed",
		Reason: fmt.Sprintf("%s -> %s", from, status),
		Payload: mustJSON(map[string]string{
			"from":  string(from),
			"to":    string(status),
			"agent": agentName,
		}),
	})
	return nil
}

// invoke runs one agent and records its result in the agent history.
func (s *Service) invoke(ctx context.Context, rec *task.Record, a agent.Agent) (domain.AgentResult, error) {
	result, err := a.Run(ctx, rec)
	if err != nil {
		return domain.AgentResult{}, err
	}
	if result.Agent == "" {
		result.Agent = a.Name()
	}
	rec.AppendResult(result)
	_ = s.decisions.LogDecision(ctx, domain.DecisionLog{
		TaskID:  rec.ID(),
		Actor:   result.Agent,
		Action:  "agent_finished",
		Reason:  string(result.Status),
		Payload: mustJSON(map[string]any{"status": result.Status, "feedback": result.Feedback}),
	})
	return result, nil
}

// The terminal decision is logged before the record turns terminal.
func (s *Service) complete(ctx context.Context, rec *task.Record) {
	_ = s.decisions.LogDecision(ctx, domain.DecisionLog{
		TaskID: rec.ID(),
		Actor:  orchestratorActor,
		Action: "task_done",
		Reason: "final report accepted",
		Payload: mustJSON(map[string]int{
			"report_chars": len(rec.Draft()),
		}),
	})
	if err := rec.Complete(orchestratorActor, "Task completed successfully!"); err != nil {
		s.logger.Printf("complete task failed task=%s: %v", rec.ID(), err)
		return
	}
	s.logger.Printf("task done task=%s", rec.ID())
}

func (s *Service) fail(ctx context.Context, rec *task.Record, cause error) {
	_ = s.decisions.LogDecision(ctx, domain.DecisionLog{
		TaskID:  rec.ID(),
		Actor:   orchestratorActor,
		Action:  "task_failed",
		Reason:  cause.Error(),
		Payload: mustJSON(map[string]string{"error": cause.Error()}),
	})
	if err := rec.Fail(orchestratorActor, cause); err != nil {
		s.logger.Printf("fail task failed task=%s cause=%v: %v", rec.ID(), cause, err)
		return
	}
	s.logger.Printf("task failed task=%s: %v", rec.ID(), cause)
}
