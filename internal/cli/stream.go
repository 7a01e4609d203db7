package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"organ_report/internal/client"
	"organ_report/internal/domain"
)

func newStreamCmd(opts *options) *cobra.Command {
	var from int
	var showReport bool
	cmd := &cobra.Command{
		Use:   "stream <task-id>",
		Short: "Follow a task's progress events",
		Long:  `Print every progress event of a task as it happens and stop when the task is done or failed.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followTask(cmd, opts.client(), args[0], from, showReport)
		},
	}
	cmd.Flags().IntVar(&from, "from", 0, "skip the first N events")
	cmd.Flags().BoolVar(&showReport, "report", true, "print the final report when the task is done")
	return cmd
}

func followTask(cmd *cobra.Command, c *client.Client, taskID string, from int, showReport bool) error {
	out := cmd.OutOrStdout()
	final, err := c.Stream(cmd.Context(), taskID, from, func(frame domain.StreamFrame) error {
		if frame.Event != nil {
			fmt.Fprintln(out, formatEvent(*frame.Event))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream task %s: %w", taskID, err)
	}

	fmt.Fprintln(out, subtleStyle.Render("status: ")+statusBadge(final.Status))
	if final.Status == domain.TaskStatusError {
		msg := "unknown error"
		if final.Error != nil {
			msg = *final.Error
		}
		return fmt.Errorf("task failed: %s", msg)
	}
	if showReport && final.FinalReport != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, *final.FinalReport)
	}
	return nil
}

func formatEvent(ev domain.Event) string {
	line := agentLabel(ev.Agent) + " " + ev.Message
	if plan, ok := ev.Data.([]any); ok && len(plan) > 0 {
		items := make([]string, 0, len(plan))
		for _, item := range plan {
			items = append(items, fmt.Sprint(item))
		}
		line += "\n" + subtleStyle.Render("  - "+strings.Join(items, "\n  - "))
	}
	return line
}
