package agent

import (
	"context"
	"regexp"
	"strings"

	"organ_report/internal/domain"
	"organ_report/internal/task"
)

var (
	verdictPattern  = regexp.MustCompile(`VERDICT:\s*(APPROVED|NEEDS_REVISION)`)
	feedbackPattern = regexp.MustCompile(`(?s)FEEDBACK:\s*(.+)`)
)

type Reviewer struct {
	base
	fallback domain.Verdict
}

// NewReviewer builds a reviewer. fallback is the verdict assumed when the
// model output carries none; an empty fallback means APPROVED.
func NewReviewer(cfg Config, fallback domain.Verdict) *Reviewer {
	if fallback != domain.VerdictNeedsRevision {
		fallback = domain.VerdictApproved
	}
	return &Reviewer{base: newBase(ReviewerName, cfg), fallback: fallback}
}

func (r *Reviewer) Run(ctx context.Context, t *task.Record) (domain.AgentResult, error) {
	r.emit(t, "Reviewing draft for quality and completeness", nil)
	raw, err := r.generate(ctx, t, buildReviewPrompt(t.Prompt(), t.Draft()))
	if err != nil {
		return domain.AgentResult{}, err
	}

	verdict, feedback, found := ParseReview(raw, r.fallback)
	if !found {
		r.logger.Printf("reviewer found no verdict task=%s fallback=%s", t.ID(), r.fallback)
	}
	r.emit(t, "Review complete: "+string(verdict), map[string]string{
		"verdict":  string(verdict),
		"feedback": feedback,
	})
	t.SetFeedback(feedback)

	status := domain.ResultStatusApproved
	if verdict == domain.VerdictNeedsRevision {
		status = domain.ResultStatusNeedsRevision
	}
	return domain.AgentResult{
		Agent:    r.name,
		Status:   status,
		Output:   string(verdict),
		Feedback: &feedback,
	}, nil
}

// ParseReview extracts verdict and feedback from a "VERDICT: ... FEEDBACK: ..."
// response. Without a verdict token, fallback is returned and found is
// false. Without a feedback field the whole response is the feedback.
func ParseReview(raw string, fallback domain.Verdict) (domain.Verdict, string, bool) {
	verdict := fallback
	found := false
	if m := verdictPattern.FindStringSubmatch(raw); m != nil {
		verdict = domain.Verdict(m[1])
		found = true
	}
	feedback := raw
	if m := feedbackPattern.FindStringSubmatch(raw); m != nil {
		feedback = strings.TrimSpace(m[1])
	}
	return verdict, feedback, found
}

func buildReviewPrompt(request, draft string) string {
	var b strings.Builder
	b.WriteString("You are a critical quality reviewer. Review the report below.\n\n")
	b.WriteString("Original request: ")
	b.WriteString(request)
	b.WriteString("\n\nDraft:\n")
	b.WriteString(draft)
	b.WriteString("\n\nAnswer in exactly this format:\n")
	b.WriteString("VERDICT: APPROVED or NEEDS_REVISION\n")
	b.WriteString("FEEDBACK: <your detailed feedback>")
	return b.String()
}
