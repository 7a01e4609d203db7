package agent

import (
	"context"
	"sort"
	"strings"

	"organ_report/internal/domain"
	"organ_report/internal/task"
)

type Writer struct {
	base
}

func NewWriter(cfg Config) *Writer {
	return &Writer{base: newBase(WriterName, cfg)}
}

func (w *Writer) Run(ctx context.Context, t *task.Record) (domain.AgentResult, error) {
	w.emit(t, "Synthesizing research into a draft report", nil)
	prompt := buildWriterPrompt(t.Prompt(), researchSections(subtasksOf(t), t.Research()), t.Feedback())
	draft, err := w.generate(ctx, t, prompt)
	if err != nil {
		return domain.AgentResult{}, err
	}
	t.SetDraft(draft)
	w.emit(t, "Draft report completed", nil)
	return domain.AgentResult{
		Agent:  w.name,
		Status: domain.ResultStatusDone,
		Output: draft,
	}, nil
}

// researchSections renders research as "### <sub-task>" sections in plan
// order, followed by any entries the plan does not name.
func researchSections(order []string, research map[string]string) string {
	if len(research) == 0 {
		return ""
	}
	seen := make(map[string]bool, len(research))
	sections := make([]string, 0, len(research))
	for _, subtask := range order {
		content, ok := research[subtask]
		if !ok || seen[subtask] {
			continue
		}
		seen[subtask] = true
		sections = append(sections, "### "+subtask+"\n"+content)
	}
	rest := make([]string, 0)
	for subtask := range research {
		if !seen[subtask] {
			rest = append(rest, subtask)
		}
	}
	sort.Strings(rest)
	for _, subtask := range rest {
		sections = append(sections, "### "+subtask+"\n"+research[subtask])
	}
	return strings.Join(sections, "\n\n")
}

func buildWriterPrompt(request, research, feedback string) string {
	var b strings.Builder
	b.WriteString("You are a professional technical writer. Write a comprehensive, well-structured report.\n\n")
	b.WriteString("Original request: ")
	b.WriteString(request)
	b.WriteString("\n")
	if strings.TrimSpace(feedback) != "" {
		b.WriteString("\nReviewer feedback that must be addressed:\n")
		b.WriteString(feedback)
		b.WriteString("\n")
	}
	b.WriteString("\nResearch material:\n")
	b.WriteString(research)
	b.WriteString("\n\nInclude an executive summary, clearly labeled sections and a conclusion. Use markdown.")
	return b.String()
}
