package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	DefaultProvider = "openai"
	DefaultEnvKey   = "OPENAI_API_KEY"
)

type Config struct {
	Model                string                    `toml:"model"`
	ModelProvider        string                    `toml:"model_provider"`
	ModelReasoningEffort string                    `toml:"model_reasoning_effort"`
	ModelProviders       map[string]ModelProvider  `toml:"model_providers"`
	Orchestrator         OrchestratorRuntimeConfig `toml:"orchestrator"`
	Raw                  map[string]any            `toml:"-"`
	Path                 string                    `toml:"-"`
}

type ModelProvider struct {
	Name      string `toml:"name"`
	BaseURL   string `toml:"base_url"`
	WireAPI   string `toml:"wire_api"`
	EnvKey    string `toml:"env_key"`
	Model     string `toml:"model"`
	MaxTokens int    `toml:"max_tokens"`
	TimeoutMS int    `toml:"timeout_ms"`
	Retries   int    `toml:"retries"`
}

type OrchestratorRuntimeConfig struct {
	Addr                 string `toml:"addr"`
	StreamPollIntervalMS int    `toml:"stream_poll_interval_ms"`
	HeartbeatIntervalMS  int    `toml:"heartbeat_interval_ms"`
	TaskTTLMS            int    `toml:"task_ttl_ms"`
	JanitorIntervalMS    int    `toml:"janitor_interval_ms"`
	ReviewerFailClosed   bool   `toml:"reviewer_fail_closed"`
	CORSOrigin           string `toml:"cors_origin"`
}

// builtinProviders are used when the config file does not define the
// selected provider.
var builtinProviders = map[string]ModelProvider{
	"openai": {
		Name:    "OpenAI",
		BaseURL: "https://api.openai.com/v1",
		WireAPI: "responses",
		EnvKey:  DefaultEnvKey,
		Model:   "gpt-4.1-mini",
	},
	"groq": {
		Name:    "Groq",
		BaseURL: "https://api.groq.com/openai/v1",
		WireAPI: "chat",
		EnvKey:  "GROQ_API_KEY",
		Model:   "llama-3.1-8b-instant",
	},
}

// Load reads the TOML config at path. An empty path means the default
// location; a missing file there yields an empty config rather than an error.
func Load(path string) (Config, error) {
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	resolved, err := expandHome(resolved)
	if err != nil {
		return Config{}, err
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if path == "" && errors.Is(err, fs.ErrNotExist) {
			return Config{Raw: map[string]any{}}, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}
	cfg, err := Parse(string(bytes))
	if err != nil {
		return Config{}, err
	}
	cfg.Path = resolved
	return cfg, nil
}

func Parse(data string) (Config, error) {
	var cfg Config
	if _, err := toml.Decode(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	return cfg, nil
}

// Provider resolves the selected model provider, filling unset fields from
// the built-in entry of the same name.
func (c Config) Provider() (string, ModelProvider, error) {
	name := strings.TrimSpace(c.ModelProvider)
	if name == "" {
		name = DefaultProvider
	}
	p, ok := c.ModelProviders[name]
	builtin, known := builtinProviders[name]
	if !ok && !known {
		return "", ModelProvider{}, fmt.Errorf("model provider %q is not defined", name)
	}
	if known {
		p.Name = firstNonEmpty(p.Name, builtin.Name)
		p.BaseURL = firstNonEmpty(p.BaseURL, builtin.BaseURL)
		p.WireAPI = firstNonEmpty(p.WireAPI, builtin.WireAPI)
		p.EnvKey = firstNonEmpty(p.EnvKey, builtin.EnvKey)
		p.Model = firstNonEmpty(p.Model, builtin.Model)
	}
	p.WireAPI = firstNonEmpty(p.WireAPI, "responses")
	p.EnvKey = firstNonEmpty(p.EnvKey, DefaultEnvKey)
	p.Model = firstNonEmpty(c.Model, p.Model)
	if strings.TrimSpace(p.BaseURL) == "" {
		return "", ModelProvider{}, fmt.Errorf("model provider %q has no base_url", name)
	}
	if p.Model == "" {
		return "", ModelProvider{}, fmt.Errorf("no model configured for provider %q", name)
	}
	return name, p, nil
}

// Endpoint is the full request URL for the provider's wire API.
func (p ModelProvider) Endpoint() string {
	base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	switch strings.ToLower(strings.TrimSpace(p.WireAPI)) {
	case "chat", "chat_completions":
		return base + "/chat/completions"
	default:
		return base + "/responses"
	}
}

func (p ModelProvider) APIKey() string {
	return strings.TrimSpace(os.Getenv(firstNonEmpty(p.EnvKey, DefaultEnvKey)))
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	trimmed := strings.TrimPrefix(path, "~")
	trimmed = strings.TrimPrefix(trimmed, "\\")
	trimmed = strings.TrimPrefix(trimmed, "/")
	return filepath.Join(home, trimmed), nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".organ_report/config.toml"
	}
	return filepath.Join(home, ".organ_report", "config.toml")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
