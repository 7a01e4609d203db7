package cli

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"organ_report/internal/client"
)

const defaultServer = "http://localhost:8000"

type options struct {
	server  string
	timeout time.Duration
}

func (o *options) client() *client.Client {
	return client.New(o.server, &http.Client{Timeout: o.timeout})
}

// NewRootCmd builds the reportctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "reportctl",
		Short:         "Submit prompts to the report orchestrator and follow their progress",
		Long:          `reportctl talks to a running orchestrator: it submits prompts, lists tasks, and streams agent progress until the report is done.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	server := os.Getenv("REPORT_SERVER")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVar(&opts.server, "server", server, "orchestrator base URL (env REPORT_SERVER)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout for non-streaming requests")

	root.AddCommand(
		newSubmitCmd(opts),
		newGetCmd(opts),
		newListCmd(opts),
		newStreamCmd(opts),
		newDeleteCmd(opts),
		newDecisionsCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
