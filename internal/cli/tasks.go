package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"organ_report/internal/domain"
	"organ_report/internal/textutil"
)

func newSubmitCmd(opts *options) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "submit <prompt>",
		Short: "Create a task from a prompt",
		Long:  `Submit a prompt to the orchestrator. With --follow the command streams progress until the report is done and prints it.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return fmt.Errorf("prompt must not be empty")
			}
			c := opts.client()
			id, err := c.CreateTask(cmd.Context(), prompt)
			if err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}
			if !follow {
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("Task "+id))
			return followTask(cmd, c, id, 0, true)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream progress until the task finishes")
	return cmd
}

func newGetCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show a task snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := opts.client().GetTask(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get task: %w", err)
			}
			return renderTask(cmd.OutOrStdout(), task, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := opts.client().ListTasks(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list tasks: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "No tasks.")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tAGENT\tEVENTS\tCREATED\tPROMPT")
			for _, t := range tasks {
				agent := "-"
				if t.CurrentAgent != nil {
					agent = *t.CurrentAgent
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					t.ID,
					t.Status,
					agent,
					len(t.Events),
					formatAge(t.CreatedAt),
					textutil.Line(t.Prompt, 60),
				)
			}
			return w.Flush()
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <task-id>",
		Short: "Delete a finished task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteTask(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to delete task: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Deleted "+args[0])
			return nil
		},
	}
}

func newDecisionsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "decisions <task-id>",
		Short: "Show the orchestrator decision log of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := opts.client().ListTaskDecisions(cmd.Context(), args[0], limit)
			if err != nil {
				return fmt.Errorf("failed to list decisions: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tACTOR\tACTION\tREASON")
			for _, d := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					d.CreatedAt.Local().Format("15:04:05"),
					d.Actor,
					d.Action,
					textutil.Line(d.Reason, 80),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries")
	return cmd
}

func renderTask(out io.Writer, task domain.Task, format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	case "yaml", "yml":
		// go through JSON so YAML keys match the wire names
		raw, err := json.Marshal(task)
		if err != nil {
			return err
		}
		var generic map[string]any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		data, err := yaml.Marshal(generic)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = out.Write(data)
		return err
	case "", "text":
		return renderTaskText(out, task)
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}

func renderTaskText(out io.Writer, task domain.Task) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Task "+task.ID) + "\n")
	b.WriteString("Status:  " + statusBadge(task.Status) + "\n")
	if task.CurrentAgent != nil {
		b.WriteString("Agent:   " + *task.CurrentAgent + "\n")
	}
	b.WriteString("Prompt:  " + task.Prompt + "\n")
	if len(task.Plan) > 0 {
		b.WriteString("Plan:\n")
		for i, step := range task.Plan {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, step)
		}
	}
	fmt.Fprintf(&b, "Events:  %d\n", len(task.Events))
	if task.Error != nil {
		b.WriteString(errorStyle.Render("Error: "+*task.Error) + "\n")
	}
	if task.FinalReport != nil {
		b.WriteString("\n" + *task.FinalReport + "\n")
	}
	_, err := io.WriteString(out, b.String())
	return err
}

// formatAge returns a human-readable relative time string.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	duration := time.Since(t)
	if duration < time.Minute {
		return "just now"
	}
	minutes := int(duration.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%dm ago", minutes)
	}
	hours := int(duration.Hours())
	if hours < 24 {
		return fmt.Sprintf("%dh ago", hours)
	}
	return fmt.Sprintf("%dd ago", hours/24)
}
