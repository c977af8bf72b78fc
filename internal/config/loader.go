package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// Load builds the final Config: defaults, then the file at path (when path
// is non-empty), then KIRA_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := LoadRaw(path)
		if err != nil {
			return nil, err
		}
		fileCfg, err := decodeRaw(raw)
		if err != nil {
			return nil, err
		}
		mergeConfig(cfg, fileCfg)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRaw reads a configuration file into a merged raw map, resolving
// $include directives with cycle detection. YAML by default; .json/.json5
// files parse as JSON5. Environment references like ${HOME} expand before
// parsing.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	return loadRawRecursive(path, map[string]bool{})
}

func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	raw, err := parseRawBytes([]byte(os.ExpandEnv(string(data))), absPath)
	if err != nil {
		return nil, err
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	baseDir := filepath.Dir(absPath)
	for _, inc := range includes {
		if strings.TrimSpace(inc) == "" {
			continue
		}
		incPath := inc
		if !filepath.IsAbs(incPath) {
			incPath = filepath.Join(baseDir, incPath)
		}
		incRaw, err := loadRawRecursive(incPath, seen)
		if err != nil {
			return nil, err
		}
		merged = mergeMaps(merged, incRaw)
	}

	return mergeMaps(merged, raw), nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	switch strings.ToLower(filepath.Ext(pathHint)) {
	case ".json", ".json5":
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]any{}, nil
		}
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var includeVal any
	if val, ok := raw[includeKey]; ok {
		includeVal = val
		delete(raw, includeKey)
	}
	if includeVal == nil {
		return nil, nil
	}

	switch typed := includeVal.(type) {
	case string:
		return []string{typed}, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			value, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			paths = append(paths, value)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func decodeRaw(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// mergeConfig overlays non-zero fields of src onto dst.
func mergeConfig(dst, src *Config) {
	setString(&dst.Vault.Path, src.Vault.Path)
	setString(&dst.Vault.DataDir, src.Vault.DataDir)
	setString(&dst.Core.Timezone, src.Core.Timezone)

	setString(&dst.Router.PlanningProvider, src.Router.PlanningProvider)
	setString(&dst.Router.StructuringProvider, src.Router.StructuringProvider)
	setString(&dst.Router.DefaultProvider, src.Router.DefaultProvider)
	setString(&dst.Router.LocalProvider, src.Router.LocalProvider)
	if src.Router.EnableLocalFallback {
		dst.Router.EnableLocalFallback = true
	}

	setInt(&dst.Agent.MaxToolCalls, src.Agent.MaxToolCalls)
	setInt(&dst.Agent.MaxTokens, src.Agent.MaxTokens)
	if src.Agent.Temperature != 0 {
		dst.Agent.Temperature = src.Agent.Temperature
	}
	setDuration(&dst.Agent.Timeout, src.Agent.Timeout)

	setInt(&dst.Memory.MaxExchanges, src.Memory.MaxExchanges)
	setDuration(&dst.Memory.SessionTTL, src.Memory.SessionTTL)
	setInt(&dst.Memory.MaxSessions, src.Memory.MaxSessions)

	setInt(&dst.Sandbox.TimeoutMs, src.Sandbox.TimeoutMs)
	setInt(&dst.Sandbox.MemoryLimitMB, src.Sandbox.MemoryLimitMB)

	if src.Features.Timeboxing {
		dst.Features.Timeboxing = true
	}
	if src.Features.Clarifications {
		dst.Features.Clarifications = true
	}
	if src.Features.GraphValidation {
		dst.Features.GraphValidation = true
	}

	setString(&dst.Logging.Level, src.Logging.Level)
	setString(&dst.Logging.Format, src.Logging.Format)
	setString(&dst.HTTP.Addr, src.HTTP.Addr)

	setString(&dst.Provider.OpenAI.APIKey, src.Provider.OpenAI.APIKey)
	setString(&dst.Provider.OpenAI.Model, src.Provider.OpenAI.Model)
	setString(&dst.Provider.Anthropic.APIKey, src.Provider.Anthropic.APIKey)
	setString(&dst.Provider.Anthropic.Model, src.Provider.Anthropic.Model)
	setString(&dst.Provider.Ollama.BaseURL, src.Provider.Ollama.BaseURL)
	setString(&dst.Provider.Ollama.Model, src.Provider.Ollama.Model)
}

// applyEnv overlays KIRA_* environment variables. Env wins over file.
func applyEnv(cfg *Config) {
	envString("KIRA_VAULT_PATH", &cfg.Vault.Path)
	envString("KIRA_DATA_DIR", &cfg.Vault.DataDir)
	envString("KIRA_TIMEZONE", &cfg.Core.Timezone)

	envString("KIRA_ROUTER_PLANNING_PROVIDER", &cfg.Router.PlanningProvider)
	envString("KIRA_ROUTER_STRUCTURING_PROVIDER", &cfg.Router.StructuringProvider)
	envString("KIRA_ROUTER_DEFAULT_PROVIDER", &cfg.Router.DefaultProvider)
	envString("KIRA_ROUTER_LOCAL_PROVIDER", &cfg.Router.LocalProvider)
	envBool("KIRA_ROUTER_ENABLE_LOCAL_FALLBACK", &cfg.Router.EnableLocalFallback)

	envInt("KIRA_AGENT_MAX_TOOL_CALLS", &cfg.Agent.MaxToolCalls)
	envInt("KIRA_AGENT_MAX_TOKENS", &cfg.Agent.MaxTokens)
	envDuration("KIRA_AGENT_TIMEOUT", &cfg.Agent.Timeout)

	envInt("KIRA_MEMORY_MAX_EXCHANGES", &cfg.Memory.MaxExchanges)
	envDuration("KIRA_MEMORY_SESSION_TTL", &cfg.Memory.SessionTTL)
	envInt("KIRA_MEMORY_MAX_SESSIONS", &cfg.Memory.MaxSessions)

	envString("KIRA_LOG_LEVEL", &cfg.Logging.Level)
	envString("KIRA_LOG_FORMAT", &cfg.Logging.Format)
	envString("KIRA_HTTP_ADDR", &cfg.HTTP.Addr)

	envString("OPENAI_API_KEY", &cfg.Provider.OpenAI.APIKey)
	envString("ANTHROPIC_API_KEY", &cfg.Provider.Anthropic.APIKey)
	envString("KIRA_OLLAMA_BASE_URL", &cfg.Provider.Ollama.BaseURL)
	envString("KIRA_OLLAMA_MODEL", &cfg.Provider.Ollama.Model)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			*dst = parsed
		}
	}
}
