package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/haasonsaas/kira/internal/agent"
	"github.com/haasonsaas/kira/internal/audit"
	"github.com/haasonsaas/kira/internal/bus"
	"github.com/haasonsaas/kira/internal/config"
	"github.com/haasonsaas/kira/internal/datetime"
	"github.com/haasonsaas/kira/internal/host"
	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/llm/providers"
	"github.com/haasonsaas/kira/internal/observability"
	"github.com/haasonsaas/kira/internal/storage"
	"github.com/haasonsaas/kira/internal/tools"
	"github.com/haasonsaas/kira/internal/vault"
)

// app is the assembled process: every long-lived component, wired.
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	loc      *time.Location
	db       *sql.DB
	store    *vault.Store
	host     *host.Host
	bus      *bus.Bus
	seen     *bus.SeenStore
	registry *tools.Registry
	trail    *audit.Trail
	executor *agent.Executor
}

// resolveConfigPath applies the default: explicit flag wins, else kira.yaml
// when present, else built-in defaults (empty path).
func resolveConfigPath(path string) string {
	if path == "" {
		if _, err := os.Stat("kira.yaml"); err == nil {
			return "kira.yaml"
		}
	}
	return path
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errConfig, err)
	}
	return cfg, nil
}

// buildApp wires the full stack bottom-up: vault, host, bus, tools, LLM
// router, agent. withMetrics is off for one-shot commands so repeated CLI
// runs do not re-register Prometheus collectors.
func buildApp(cfg *config.Config, withMetrics bool) (*app, error) {
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	var metrics *observability.Metrics
	if withMetrics {
		metrics = observability.NewMetrics()
	}
	loc := datetime.ResolveTimezone(cfg.Core.Timezone)

	dataDir := cfg.Vault.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(filepath.Dir(cfg.Vault.Path), "kira-data")
	}

	db, err := storage.Open(filepath.Join(dataDir, "conversations.db"))
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics, loc: loc, db: db}
	if err := a.wire(dataDir); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(dataDir string) error {
	cfg := a.cfg

	store, err := vault.NewStore(cfg.Vault.Path)
	if err != nil {
		return err
	}
	a.store = store

	seen, err := bus.NewSeenStore(a.db)
	if err != nil {
		return err
	}
	a.seen = seen
	busOpts := []bus.Option{bus.WithLogger(a.logger), bus.WithSeenStore(seen)}
	if a.metrics != nil {
		busOpts = append(busOpts, bus.WithMetrics(a.metrics))
	}
	a.bus = bus.NewBus(busOpts...)

	hostOpts := []host.Option{
		host.WithLogger(a.logger),
		host.WithPublisher(a.bus),
		host.WithTimezone(a.loc),
	}
	if a.metrics != nil {
		hostOpts = append(hostOpts, host.WithMetrics(a.metrics))
	}
	h, err := host.New(store, hostOpts...)
	if err != nil {
		return err
	}
	a.host = h

	trail, err := audit.NewTrail(filepath.Join(dataDir, "audit"), audit.WithTrailLogger(a.logger))
	if err != nil {
		return err
	}
	a.trail = trail

	registryOpts := []tools.RegistryOption{tools.WithLogger(a.logger), tools.WithAuditor(trail)}
	if a.metrics != nil {
		registryOpts = append(registryOpts, tools.WithMetrics(a.metrics))
	}
	a.registry = tools.NewRegistry(registryOpts...)
	if err := tools.RegisterAll(a.registry, h, a.bus, a.loc, nil); err != nil {
		return err
	}

	router, err := a.buildRouter()
	if err != nil {
		return err
	}

	graph := agent.NewGraph(router, a.registry,
		agent.WithGraphLogger(a.logger),
		agent.WithMaxToolCalls(cfg.Agent.MaxToolCalls),
		agent.WithToolTimeout(time.Duration(cfg.Sandbox.TimeoutMs)*time.Millisecond),
		agent.WithLLMOptions(cfg.Agent.MaxTokens, cfg.Agent.Temperature),
	)

	memory, err := agent.NewSessionMemory(a.db,
		agent.WithMaxExchanges(cfg.Memory.MaxExchanges),
		agent.WithSessionTTL(cfg.Memory.SessionTTL),
		agent.WithMaxSessions(cfg.Memory.MaxSessions),
	)
	if err != nil {
		return err
	}

	a.executor = agent.NewExecutor(graph, memory,
		agent.WithExecutorLogger(a.logger),
		agent.WithGraphTimeout(cfg.Agent.Timeout),
	)
	return nil
}

// buildRouter registers every configured provider and maps task types per
// the router config.
func (a *app) buildRouter() (*llm.Router, error) {
	cfg := a.cfg
	opts := []llm.RouterOption{llm.WithRouterLogger(a.logger)}
	if a.metrics != nil {
		opts = append(opts, llm.WithRouterMetrics(a.metrics))
	}

	registered := map[string]bool{}
	if key := cfg.Provider.Anthropic.APIKey; key != "" {
		adapter, err := providers.NewAnthropic(providers.AnthropicConfig{
			APIKey: key,
			Model:  cfg.Provider.Anthropic.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: anthropic: %v", errConfig, err)
		}
		opts = append(opts, llm.WithAdapter(adapter))
		registered["anthropic"] = true
	}
	if key := cfg.Provider.OpenAI.APIKey; key != "" {
		adapter, err := providers.NewOpenAI(providers.OpenAIConfig{
			APIKey: key,
			Model:  cfg.Provider.OpenAI.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: openai: %v", errConfig, err)
		}
		opts = append(opts, llm.WithAdapter(adapter))
		registered["openai"] = true
	}
	ollama := providers.NewOllama(providers.OllamaConfig{
		BaseURL: cfg.Provider.Ollama.BaseURL,
		Model:   cfg.Provider.Ollama.Model,
	})
	opts = append(opts, llm.WithAdapter(ollama))
	registered["ollama"] = true

	routes := map[llm.TaskType]string{
		llm.TaskPlanning:    cfg.Router.PlanningProvider,
		llm.TaskStructuring: cfg.Router.StructuringProvider,
		llm.TaskDefault:     cfg.Router.DefaultProvider,
	}
	for task, provider := range routes {
		if !registered[provider] {
			// No credentials for the configured provider: route to the
			// local model instead of failing at first use.
			a.logger.Warn(context.Background(), "provider not configured, routing to local",
				"task", string(task), "provider", provider)
			provider = cfg.Router.LocalProvider
		}
		opts = append(opts, llm.WithRoute(task, provider))
	}
	if cfg.Router.EnableLocalFallback {
		opts = append(opts, llm.WithLocalFallback(cfg.Router.LocalProvider))
	}
	return llm.NewRouter(opts...), nil
}

// Close releases components in reverse dependency order.
func (a *app) Close() {
	if a.trail != nil {
		_ = a.trail.Close()
	}
	if a.host != nil {
		_ = a.host.Close()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
