package main

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// childServer is an orchestrator process owned by the monitor.
type childServer struct {
	cmd *exec.Cmd

	mu  sync.Mutex
	out bytes.Buffer
}

func (c *childServer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *childServer) Output() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.String()
}

func (c *childServer) Stop() {
	if c == nil || c.cmd == nil || c.cmd.Process == nil {
		return
	}
	_ = c.cmd.Process.Kill()
	_, _ = c.cmd.Process.Wait()
}

// startChildServer launches the orchestrator on the port of baseURL. It
// prefers an explicit binary, then an orchestrator binary next to the
// monitor, then `go run ./cmd/orchestrator` from the working directory.
func startChildServer(baseURL, binary, configPath string) (*childServer, error) {
	args, err := childArgs(baseURL, configPath)
	if err != nil {
		return nil, err
	}

	name, prefix := resolveOrchestrator(binary)
	cmd := exec.Command(name, append(prefix, args...)...)
	if name == "go" {
		cmd.Dir, _ = os.Getwd()
	}

	child := &childServer{cmd: cmd}
	cmd.Stdout = child
	cmd.Stderr = child
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start orchestrator process: %w", err)
	}
	return child, nil
}

func childArgs(baseURL, configPath string) ([]string, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse addr: %w", err)
	}
	port := parsed.Port()
	if port == "" {
		return nil, fmt.Errorf("addr must include explicit port, got %q", baseURL)
	}
	args := []string{"-addr", ":" + port}
	if strings.TrimSpace(configPath) != "" {
		args = append(args, "-config", configPath)
	}
	return args, nil
}

func resolveOrchestrator(binary string) (string, []string) {
	if strings.TrimSpace(binary) != "" {
		return binary, nil
	}
	if self, err := os.Executable(); err == nil {
		for _, name := range []string{"orchestrator", "orchestrator.exe"} {
			sibling := filepath.Join(filepath.Dir(self), name)
			if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
				return sibling, nil
			}
		}
	}
	return "go", []string{"run", "./cmd/orchestrator"}
}
