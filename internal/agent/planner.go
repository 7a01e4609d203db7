package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"organ_report/internal/domain"
	"organ_report/internal/task"
	"organ_report/internal/textutil"
)

type Planner struct {
	base
}

func NewPlanner(cfg Config) *Planner {
	return &Planner{base: newBase(PlannerName, cfg)}
}

func (p *Planner) Run(ctx context.Context, t *task.Record) (domain.AgentResult, error) {
	p.emit(t, fmt.Sprintf("Analyzing your request: '%s'", t.Prompt()), nil)

	raw, err := p.generate(ctx, t, buildPlannerPrompt(t.Prompt()))
	if err != nil {
		return domain.AgentResult{}, err
	}
	plan, ok := ParsePlan(raw)
	if !ok {
		p.logger.Printf("planner found no JSON array task=%s output=%q", t.ID(), textutil.Truncate(raw, 160))
		plan = []string{t.Prompt()}
	}

	p.emit(t, fmt.Sprintf("Created %d sub-tasks", len(plan)), append([]string(nil), plan...))
	t.SetPlan(plan)
	return domain.AgentResult{
		Agent:  p.name,
		Status: domain.ResultStatusDone,
		Output: plan,
	}, nil
}

// ParsePlan extracts the first JSON array of non-empty strings embedded in
// raw. Prose around the array is ignored.
func ParsePlan(raw string) ([]string, bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '[' {
			continue
		}
		var items []string
		if err := json.NewDecoder(strings.NewReader(raw[i:])).Decode(&items); err != nil {
			continue
		}
		plan := make([]string, 0, len(items))
		for _, item := range items {
			if item = strings.TrimSpace(item); item != "" {
				plan = append(plan, item)
			}
		}
		if len(plan) > 0 {
			return plan, true
		}
	}
	return nil, false
}

func buildPlannerPrompt(request string) string {
	var b strings.Builder
	b.WriteString("You are a task planner. Split the user request below into 3-5 focused research sub-tasks.\n")
	b.WriteString("Respond with a JSON array of strings only, without commentary or markdown fences.\n")
	b.WriteString(`Example: ["Research topic A", "Compare X and Y", "Analyze trade-offs"]`)
	b.WriteString("\n\nUser request: ")
	b.WriteString(request)
	return b.String()
}
