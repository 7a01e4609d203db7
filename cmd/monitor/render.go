package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"organ_report/internal/domain"
	"organ_report/internal/textutil"
)

var agentTags = map[string]string{
	"Planner":      "[skyblue]",
	"Researcher":   "[violet]",
	"Writer":       "[orange]",
	"Reviewer":     "[lightgreen]",
	"Orchestrator": "[teal]",
}

func renderTasksTable(table *tview.Table, tasks []domain.Task, selected string) {
	table.Clear()
	for col, h := range []string{"Task", "Status", "Agent", "Created", "Prompt"} {
		table.SetCell(0, col, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, t := range tasks {
		row := i + 1
		agent := "-"
		if t.CurrentAgent != nil {
			agent = *t.CurrentAgent
		}
		table.SetCell(row, 0, tview.NewTableCell(shortID(t.ID)))
		table.SetCell(row, 1, tview.NewTableCell(string(t.Status)).SetTextColor(statusColor(t.Status)))
		table.SetCell(row, 2, tview.NewTableCell(agent))
		table.SetCell(row, 3, tview.NewTableCell(t.CreatedAt.Local().Format("15:04:05")))
		table.SetCell(row, 4, tview.NewTableCell(textutil.Line(t.Prompt, 64)))
		if t.ID == selected {
			table.Select(row, 0)
		}
	}
}

func statusColor(status domain.TaskStatus) tcell.Color {
	switch {
	case status == domain.TaskStatusDone:
		return tcell.ColorGreen
	case status == domain.TaskStatusError:
		return tcell.ColorRed
	case status.IsWorking():
		return tcell.ColorYellow
	}
	return tcell.ColorGray
}

func renderEvent(ev domain.Event) string {
	tag, ok := agentTags[ev.Agent]
	if !ok {
		tag = "[gray]"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s%-12s[-] %s", tag, tview.Escape(ev.Agent), tview.Escape(ev.Message))
	if items, ok := ev.Data.([]any); ok {
		for _, item := range items {
			b.WriteString("\n  [gray]- " + tview.Escape(fmt.Sprint(item)) + "[-]")
		}
	}
	return b.String()
}

// renderReport shows the best text available: final report, error, or the
// draft in progress.
func renderReport(t domain.Task) string {
	switch {
	case t.FinalReport != nil:
		return *t.FinalReport
	case t.Error != nil:
		return "Task failed: " + *t.Error
	case t.Draft != nil:
		return fmt.Sprintf("(draft, %s)\n\n%s", t.Status, *t.Draft)
	}
	return fmt.Sprintf("No report yet (%s)", t.Status)
}

func renderDecisions(items []domain.DecisionLog) string {
	if len(items) == 0 {
		return "No decisions"
	}
	var b strings.Builder
	for _, d := range items {
		fmt.Fprintf(&b, "[%s] %s [::b]%s[::-] %s\n",
			d.CreatedAt.Local().Format("15:04:05"),
			tview.Escape(d.Actor),
			d.Action,
			tview.Escape(textutil.Line(d.Reason, 100)),
		)
		if detail := decisionPayloadSummary(d.Payload); detail != "" {
			b.WriteString("    " + tview.Escape(textutil.Line(detail, 160)) + "\n")
		}
	}
	return b.String()
}

// decisionPayloadSummary flattens a JSON object payload to sorted k=v pairs,
// skipping nulls. Non-object payloads are returned as-is.
func decisionPayloadSummary(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" {
		return ""
	}
	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err != nil {
		return trimmed
	}
	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != nil {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
	}
	return strings.Join(parts, ", ")
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
