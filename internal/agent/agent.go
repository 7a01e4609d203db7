package agent

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"organ_report/internal/domain"
	"organ_report/internal/llm"
	"organ_report/internal/task"
)

const (
	PlannerName    = "Planner"
	ResearcherName = "Researcher"
	WriterName     = "Writer"
	ReviewerName   = "Reviewer"
)

// Agent is one pipeline stage. Run reads and writes the record and returns
// an immutable description of what it did.
type Agent interface {
	Name() string
	Run(ctx context.Context, t *task.Record) (domain.AgentResult, error)
}

type Config struct {
	Generator llm.Generator
	Logger    *log.Logger
	// HeartbeatInterval > 0 emits a progress event while a generation call
	// is in flight.
	HeartbeatInterval time.Duration
}

type base struct {
	name      string
	generator llm.Generator
	logger    *log.Logger
	heartbeat time.Duration
}

func newBase(name string, cfg Config) base {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return base{
		name:      name,
		generator: cfg.Generator,
		logger:    cfg.Logger,
		heartbeat: cfg.HeartbeatInterval,
	}
}

func (b base) Name() string {
	return b.name
}

// emit appends a progress event; empty data is dropped.
func (b base) emit(t *task.Record, message string, data any) {
	if isEmptyData(data) {
		data = nil
	}
	t.Emit(b.name, message, data)
}

func (b base) generate(ctx context.Context, t *task.Record, prompt string) (string, error) {
	if b.generator == nil {
		return "", fmt.Errorf("%s: no generator configured", b.name)
	}
	started := time.Now()
	stop := startProgressHeartbeat(ctx, b.heartbeat, func(elapsed time.Duration) {
		b.emit(t, fmt.Sprintf("Still working (%ds elapsed)", int(elapsed.Seconds())), nil)
	})
	out, err := b.generator.Generate(ctx, prompt)
	stop()
	if err != nil {
		b.logger.Printf("agent generate failed task=%s agent=%s elapsed=%s: %v", t.ID(), b.name, time.Since(started).Round(time.Millisecond), err)
		return "", fmt.Errorf("%s generation failed: %w", b.name, err)
	}
	b.logger.Printf("agent generate finished task=%s agent=%s elapsed=%s chars=%d", t.ID(), b.name, time.Since(started).Round(time.Millisecond), len(out))
	return out, nil
}

// startProgressHeartbeat calls onTick every interval until the returned stop
// func is called. stop waits for the ticker goroutine to exit, so no tick
// fires after it returns. A non-positive interval disables the heartbeat.
func startProgressHeartbeat(ctx context.Context, interval time.Duration, onTick func(elapsed time.Duration)) func() {
	if interval <= 0 {
		return func() {}
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	started := time.Now()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if onTick != nil {
					onTick(time.Since(started))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
		})
	}
}

func isEmptyData(data any) bool {
	if data == nil {
		return true
	}
	v := reflect.ValueOf(data)
	switch v.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array:
		return v.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return v.IsNil()
	}
	return false
}
