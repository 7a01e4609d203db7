package orchestrator

import (
	"context"
	"time"

	"organ_report/internal/domain"
)

// Stream replays the task's events starting at index from and follows new
// ones until the task reaches a terminal status, at which point one final
// snapshot frame is sent and the channel is closed. The channel is closed
// without a final frame when ctx ends or the task is removed.
func (s *Service) Stream(ctx context.Context, taskID string, from int) (<-chan domain.StreamFrame, error) {
	if _, ok := s.store.Get(taskID); !ok {
		return nil, ErrTaskNotFound
	}
	if from < 0 {
		from = 0
	}

	var wake <-chan struct{}
	cancel := func() {}
	if s.hub != nil {
		wake, cancel = s.hub.Subscribe(taskID)
	}

	out := make(chan domain.StreamFrame)
	go func() {
		defer close(out)
		defer cancel()
		s.follow(ctx, taskID, from, wake, out)
	}()
	return out, nil
}

func (s *Service) follow(ctx context.Context, taskID string, cursor int, wake <-chan struct{}, out chan<- domain.StreamFrame) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rec, ok := s.store.Get(taskID)
		if !ok {
			return
		}
		events, status := rec.EventsSince(cursor)
		for i := range events {
			if !send(ctx, out, domain.StreamFrame{Event: &events[i]}) {
				return
			}
		}
		cursor += len(events)

		if status.IsTerminal() {
			// Terminal transitions append their event under the same lock,
			// so nothing past the cursor remains to be read.
			snapshot := rec.Snapshot()
			send(ctx, out, domain.StreamFrame{Task: &snapshot})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-ticker.C:
		}
	}
}

func send(ctx context.Context, out chan<- domain.StreamFrame, frame domain.StreamFrame) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- frame:
		return true
	}
}
