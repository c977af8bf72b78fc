// Package config defines the typed configuration surface and its layered
// loading: built-in defaults, then a YAML (or JSON5) file with $include
// support, then KIRA_* environment variables. Env wins.
package config

import (
	"fmt"
	"time"
)

// Config is the single typed configuration object. It is built once and
// never mutated in place; hot reload builds a fresh copy and swaps it.
type Config struct {
	Vault    VaultConfig    `yaml:"vault"`
	Core     CoreConfig     `yaml:"core"`
	Router   RouterConfig   `yaml:"router"`
	Agent    AgentConfig    `yaml:"agent"`
	Memory   MemoryConfig   `yaml:"memory"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Features FeatureFlags   `yaml:"features"`
	Logging  LoggingConfig  `yaml:"logging"`
	HTTP     HTTPConfig     `yaml:"http"`
	Provider ProviderConfig `yaml:"providers"`
}

// VaultConfig locates the vault on disk.
type VaultConfig struct {
	// Path is the vault root directory.
	Path string `yaml:"path"`
	// DataDir holds SQLite, audit logs, and structured logs. Defaults to
	// a sibling of the vault.
	DataDir string `yaml:"data_dir"`
}

// CoreConfig holds cross-cutting behavior.
type CoreConfig struct {
	// Timezone is the default TZ for ID generation and local-time windows.
	// Storage stays UTC.
	Timezone string `yaml:"timezone"`
}

// RouterConfig maps LLM task types to providers.
type RouterConfig struct {
	PlanningProvider    string `yaml:"planning_provider"`
	StructuringProvider string `yaml:"structuring_provider"`
	DefaultProvider     string `yaml:"default_provider"`
	// EnableLocalFallback invokes the local provider once after remote
	// retries are exhausted.
	EnableLocalFallback bool `yaml:"enable_local_fallback"`
	// LocalProvider names the fallback provider (usually "ollama").
	LocalProvider string `yaml:"local_provider"`
}

// AgentConfig caps a single graph execution.
type AgentConfig struct {
	MaxToolCalls int           `yaml:"max_tool_calls"`
	MaxTokens    int           `yaml:"max_tokens"`
	Temperature  float64       `yaml:"temperature"`
	Timeout      time.Duration `yaml:"timeout"`
}

// MemoryConfig bounds conversation history.
type MemoryConfig struct {
	MaxExchanges int           `yaml:"max_exchanges"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	MaxSessions  int           `yaml:"max_sessions"`
}

// SandboxConfig caps tool and plugin execution.
type SandboxConfig struct {
	TimeoutMs     int `yaml:"timeout_ms"`
	MemoryLimitMB int `yaml:"memory_limit_mb"`
}

// FeatureFlags gate optional behaviors.
type FeatureFlags struct {
	Timeboxing      bool `yaml:"timeboxing"`
	Clarifications  bool `yaml:"clarifications"`
	GraphValidation bool `yaml:"graph_validation"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPConfig configures the agent HTTP service.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// ProviderConfig holds per-provider credentials and model choices.
type ProviderConfig struct {
	OpenAI    ProviderEntry `yaml:"openai"`
	Anthropic ProviderEntry `yaml:"anthropic"`
	Ollama    OllamaEntry   `yaml:"ollama"`
}

// ProviderEntry configures one remote LLM provider.
type ProviderEntry struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// OllamaEntry configures the local provider.
type OllamaEntry struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Default returns the built-in defaults, the bottom layer of the stack.
func Default() *Config {
	return &Config{
		Vault: VaultConfig{
			Path: "vault",
		},
		Core: CoreConfig{
			Timezone: "UTC",
		},
		Router: RouterConfig{
			PlanningProvider:    "anthropic",
			StructuringProvider: "openai",
			DefaultProvider:     "anthropic",
			EnableLocalFallback: false,
			LocalProvider:       "ollama",
		},
		Agent: AgentConfig{
			MaxToolCalls: 10,
			MaxTokens:    4096,
			Temperature:  0.2,
			Timeout:      60 * time.Second,
		},
		Memory: MemoryConfig{
			MaxExchanges: 10,
			SessionTTL:   time.Hour,
			MaxSessions:  1000,
		},
		Sandbox: SandboxConfig{
			TimeoutMs:     20000,
			MemoryLimitMB: 256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		HTTP: HTTPConfig{
			Addr: ":8788",
		},
		Provider: ProviderConfig{
			OpenAI:    ProviderEntry{Model: "gpt-4o"},
			Anthropic: ProviderEntry{Model: "claude-sonnet-4-20250514"},
			Ollama:    OllamaEntry{BaseURL: "http://localhost:11434", Model: "llama3.1"},
		},
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Vault.Path == "" {
		return fmt.Errorf("vault.path is required")
	}
	if c.Agent.MaxToolCalls <= 0 {
		return fmt.Errorf("agent.max_tool_calls must be positive, got %d", c.Agent.MaxToolCalls)
	}
	if c.Agent.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive, got %v", c.Agent.Timeout)
	}
	if c.Memory.MaxExchanges <= 0 {
		return fmt.Errorf("memory.max_exchanges must be positive, got %d", c.Memory.MaxExchanges)
	}
	switch c.Router.DefaultProvider {
	case "openai", "anthropic", "ollama":
	default:
		return fmt.Errorf("router.default_provider %q is not a known provider", c.Router.DefaultProvider)
	}
	return nil
}
