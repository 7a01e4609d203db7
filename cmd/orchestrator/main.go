package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"organ_report/internal/agent"
	"organ_report/internal/config"
	"organ_report/internal/domain"
	"organ_report/internal/llm"
	"organ_report/internal/messaging/inproc"
	"organ_report/internal/orchestrator"
	"organ_report/internal/store/memory"
	sqlitestore "organ_report/internal/store/sqlite"
)

const defaultCORSOrigin = "http://localhost:3000"

type app struct {
	cfg          config.Config
	orchestrator *orchestrator.Service
	corsOrigin   string
}

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.organ_report/config.toml)")
	addrFlag := flag.String("addr", "", "http listen address override")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	providerName, provider, err := cfg.Provider()
	if err != nil {
		log.Fatalf("resolve model provider: %v", err)
	}
	apiKey := provider.APIKey()
	if apiKey == "" {
		log.Printf("warning: %s is not set, generation calls will fail", provider.EnvKey)
	}

	gen, err := llm.New(provider.WireAPI, llm.ClientConfig{
		Endpoint:        provider.Endpoint(),
		Model:           provider.Model,
		ReasoningEffort: cfg.ModelReasoningEffort,
		AuthToken:       apiKey,
		Timeout:         durationMS(provider.TimeoutMS, 8*time.Minute),
		Retries:         provider.Retries,
		MaxOutputTokens: intOrDefault(provider.MaxTokens, 2048),
		Logger:          log.Default(),
	})
	if err != nil {
		log.Fatalf("create llm client: %v", err)
	}

	decisions, err := sqlitestore.Open(sqlitestore.MemoryDSN)
	if err != nil {
		log.Fatalf("open decision log: %v", err)
	}
	defer func() {
		_ = decisions.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := decisions.Migrate(ctx); err != nil {
		log.Fatalf("migrate decision log: %v", err)
	}

	orchCfg := orchestrator.Config{
		PollInterval:    durationMS(cfg.Orchestrator.StreamPollIntervalMS, 300*time.Millisecond),
		TaskTTL:         durationMS(cfg.Orchestrator.TaskTTLMS, 0),
		JanitorInterval: durationMS(cfg.Orchestrator.JanitorIntervalMS, time.Minute),
	}
	orch, err := orchestrator.New(memory.New(), decisions, inproc.New(), buildAgents(gen, cfg.Orchestrator, log.Default()), orchCfg, log.Default())
	if err != nil {
		log.Fatalf("create orchestrator: %v", err)
	}
	orch.Start(ctx)

	a := newApp(cfg, orch)
	addr := firstNonEmpty(*addrFlag, cfg.Orchestrator.Addr, ":8000")
	server := &http.Server{
		Addr:              addr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Printf(
		"organ_report started addr=%s provider=%s wire_api=%s model=%s cors=%s",
		addr,
		providerName,
		provider.WireAPI,
		provider.Model,
		a.corsOrigin,
	)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("http server failed: %v", err)
	}
}

func buildAgents(gen llm.Generator, rt config.OrchestratorRuntimeConfig, logger *log.Logger) orchestrator.Agents {
	agentCfg := agent.Config{
		Generator:         gen,
		Logger:            logger,
		HeartbeatInterval: durationMS(rt.HeartbeatIntervalMS, 0),
	}
	fallback := domain.VerdictApproved
	if rt.ReviewerFailClosed {
		fallback = domain.VerdictNeedsRevision
	}
	return orchestrator.Agents{
		Planner:    agent.NewPlanner(agentCfg),
		Researcher: agent.NewResearcher(agentCfg),
		Writer:     agent.NewWriter(agentCfg),
		Reviewer:   agent.NewReviewer(agentCfg, fallback),
	}
}

func newApp(cfg config.Config, orch *orchestrator.Service) *app {
	return &app{
		cfg:          cfg,
		orchestrator: orch,
		corsOrigin:   firstNonEmpty(cfg.Orchestrator.CORSOrigin, defaultCORSOrigin),
	}
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/config", a.handleConfig)
	mux.HandleFunc("/tasks", a.handleTasks)
	mux.HandleFunc("/tasks/", a.handleTaskByID)
	return loggingMiddleware(corsMiddleware(a.corsOrigin, mux))
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
	})
}

func (a *app) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		tasks, err := a.orchestrator.ListTasks(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	case http.MethodPost:
		var req struct {
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		task, err := a.orchestrator.CreateTask(r.Context(), req.Prompt)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"task_id": task.ID})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (a *app) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/tasks/")
	parts := strings.Split(trimmed, "/")
	taskID := parts[0]
	if taskID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("task id is required"))
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			task, err := a.orchestrator.GetTask(r.Context(), taskID)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, task)
		case http.MethodDelete:
			if err := a.orchestrator.DeleteTask(r.Context(), taskID); err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	action := parts[1]
	switch action {
	case "stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		a.handleStream(w, r, taskID)
	case "decisions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit := queryInt(r, "limit", 300)
		items, err := a.orchestrator.ListTaskDecisions(r.Context(), taskID, limit)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

// handleStream writes every frame as one SSE "data:" line and flushes it
// right away. The response ends after the final snapshot frame.
func (a *app) handleStream(w http.ResponseWriter, r *http.Request, taskID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming is not supported"))
		return
	}
	frames, err := a.orchestrator.Stream(r.Context(), taskID, queryInt(r, "from", 0))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for frame := range frames {
		payload, err := json.Marshal(frame)
		if err != nil {
			log.Printf("encode stream frame failed task=%s: %v", taskID, err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrTaskRunning):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrEmptyPrompt):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}

func corsMiddleware(origin string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func durationMS(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Millisecond
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
