package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", "http://localhost:8000", "orchestrator base URL")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	embedded := flag.Bool("embedded", false, "start the orchestrator as a child process")
	orchestratorBinary := flag.String("orchestrator-bin", "", "path to orchestrator binary (optional in embedded mode)")
	configPath := flag.String("config", "", "config.toml passed to the embedded orchestrator")
	flag.Parse()

	var child *childServer
	if *embedded {
		var err error
		child, err = startChildServer(*addr, *orchestratorBinary, *configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start embedded orchestrator: %v\n", err)
			os.Exit(1)
		}
		defer child.Stop()
	}

	d := newDashboard(*addr, *embedded)
	if err := d.waitReady(30 * time.Second); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrator health check failed: %v\n", err)
		if child != nil {
			fmt.Fprintln(os.Stderr, child.Output())
			child.Stop()
		}
		os.Exit(1)
	}
	if err := d.Run(*interval); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		child.Stop()
		os.Exit(1)
	}
}
