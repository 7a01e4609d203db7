package agent

import (
	"context"
	"maps"
	"strings"

	"organ_report/internal/domain"
	"organ_report/internal/task"
)

// Researcher runs one generation per sub-task, strictly one after another.
type Researcher struct {
	base
}

func NewResearcher(cfg Config) *Researcher {
	return &Researcher{base: newBase(ResearcherName, cfg)}
}

func (r *Researcher) Run(ctx context.Context, t *task.Record) (domain.AgentResult, error) {
	research := make(map[string]string)
	for _, subtask := range subtasksOf(t) {
		r.emit(t, "Researching: "+subtask, nil)
		out, err := r.generate(ctx, t, buildResearchPrompt(subtask, t.Prompt()))
		if err != nil {
			return domain.AgentResult{}, err
		}
		research[subtask] = out
		r.emit(t, "Completed research on: "+subtask, nil)
	}
	t.SetResearch(research)
	return domain.AgentResult{
		Agent:  r.name,
		Status: domain.ResultStatusDone,
		Output: maps.Clone(research),
	}, nil
}

// subtasksOf returns the plan, or the raw prompt when no plan exists.
func subtasksOf(t *task.Record) []string {
	if plan := t.Plan(); len(plan) > 0 {
		return plan
	}
	return []string{t.Prompt()}
}

func buildResearchPrompt(subtask, request string) string {
	var b strings.Builder
	b.WriteString("You are an expert researcher. Give detailed, factual research on the topic below.\n")
	b.WriteString("Topic: ")
	b.WriteString(subtask)
	b.WriteString("\nOriginal request: ")
	b.WriteString(request)
	b.WriteString("\nWrite 2-3 paragraphs.")
	return b.String()
}
