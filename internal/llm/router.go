package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/kira/internal/backoff"
	"github.com/haasonsaas/kira/internal/observability"
)

// TaskType selects which provider route handles a call.
type TaskType string

const (
	// TaskPlanning covers plan generation and reflection.
	TaskPlanning TaskType = "planning"
	// TaskStructuring covers extraction and normalization calls.
	TaskStructuring TaskType = "structuring"
	// TaskDefault covers everything else, responses included.
	TaskDefault TaskType = "default"
)

// Default per-call timeouts.
const (
	defaultChatTimeout     = 30 * time.Second
	defaultToolCallTimeout = 60 * time.Second
)

const routerAttempts = 3

// RouterOption customizes the router.
type RouterOption func(*Router)

// WithAdapter registers a provider adapter under its name.
func WithAdapter(a Adapter) RouterOption {
	return func(r *Router) { r.adapters[a.Name()] = a }
}

// WithRoute maps a task type to a provider name.
func WithRoute(task TaskType, provider string) RouterOption {
	return func(r *Router) { r.routes[task] = provider }
}

// WithLocalFallback names the provider invoked once after remote retries
// are exhausted. Empty disables fallback.
func WithLocalFallback(provider string) RouterOption {
	return func(r *Router) { r.fallback = provider }
}

// WithRouterLogger sets the structured logger.
func WithRouterLogger(logger *observability.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// WithRouterMetrics records request outcomes.
func WithRouterMetrics(m *observability.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithRouterPolicy overrides the retry backoff, used by tests.
func WithRouterPolicy(p backoff.Policy) RouterOption {
	return func(r *Router) { r.policy = p }
}

// Router dispatches calls to the provider configured for each task type,
// retrying rate-limit, timeout, and transient failures with exponential
// backoff and falling back to a local provider once when configured.
// Auth and invalid-request errors are surfaced immediately.
type Router struct {
	adapters map[string]Adapter
	routes   map[TaskType]string
	fallback string
	policy   backoff.Policy
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewRouter builds a router. At minimum one adapter and a default route
// are required for calls to succeed.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		adapters: make(map[string]Adapter),
		routes:   make(map[TaskType]string),
		policy:   backoff.RouterPolicy(),
		logger:   observability.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Chat routes a conversation to the task's provider.
func (r *Router) Chat(ctx context.Context, task TaskType, messages []Message, opts Options) (*Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultChatTimeout
	}
	return r.do(ctx, task, opts, func(ctx context.Context, a Adapter) (*Response, error) {
		return a.Chat(ctx, messages, opts)
	})
}

// ToolCall routes a function-calling request to the task's provider.
func (r *Router) ToolCall(ctx context.Context, task TaskType, messages []Message, tools []Tool, opts Options) (*Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultToolCallTimeout
	}
	return r.do(ctx, task, opts, func(ctx context.Context, a Adapter) (*Response, error) {
		return a.ToolCall(ctx, messages, tools, opts)
	})
}

// Generate routes a single-turn prompt to the task's provider.
func (r *Router) Generate(ctx context.Context, task TaskType, prompt string, opts Options) (*Response, error) {
	return r.Chat(ctx, task, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

func (r *Router) do(ctx context.Context, task TaskType, opts Options, call func(context.Context, Adapter) (*Response, error)) (*Response, error) {
	primary, err := r.adapterFor(task)
	if err != nil {
		return nil, err
	}

	resp, err := r.attempt(ctx, primary, task, opts, call)
	if err == nil {
		return resp, nil
	}
	if !KindOf(err).Retryable() {
		return nil, err
	}

	if r.fallback != "" && r.fallback != primary.Name() {
		local, ok := r.adapters[r.fallback]
		if ok {
			r.logger.Warn(ctx, "falling back to local provider",
				"task", string(task), "primary", primary.Name(), "fallback", r.fallback, "error", err)
			return r.single(ctx, local, opts, call)
		}
	}
	return nil, err
}

// attempt runs the primary provider with backoff across retryable errors.
func (r *Router) attempt(ctx context.Context, a Adapter, task TaskType, opts Options, call func(context.Context, Adapter) (*Response, error)) (*Response, error) {
	result, err := backoff.Retry(ctx, r.policy, routerAttempts, Retryable,
		func(attempt int) (*Response, error) {
			return r.invoke(ctx, a, opts, attempt, call)
		})
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}

// single runs one uncounted call, used for the local fallback.
func (r *Router) single(ctx context.Context, a Adapter, opts Options, call func(context.Context, Adapter) (*Response, error)) (*Response, error) {
	return r.invoke(ctx, a, opts, 1, call)
}

func (r *Router) invoke(ctx context.Context, a Adapter, opts Options, attempt int, call func(context.Context, Adapter) (*Response, error)) (*Response, error) {
	callCtx := ctx
	cancel := context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	start := r.now()
	resp, err := call(callCtx, a)
	elapsed := r.now().Sub(start)

	model := opts.Model
	status := "ok"
	var usage Usage
	if resp != nil {
		model = resp.Model
		usage = resp.Usage
	}
	if err != nil {
		status = string(KindOf(err))
		r.logger.Warn(ctx, "llm attempt failed",
			"provider", a.Name(), "model", model, "attempt", attempt,
			"latency_ms", elapsed.Milliseconds(), "error", err)
	} else {
		r.logger.Debug(ctx, "llm attempt succeeded",
			"provider", a.Name(), "model", model, "attempt", attempt,
			"latency_ms", elapsed.Milliseconds(),
			"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)
	}
	if r.metrics != nil {
		r.metrics.RecordLLMRequest(a.Name(), model, status, elapsed.Seconds(),
			usage.PromptTokens, usage.CompletionTokens)
	}
	return resp, err
}

func (r *Router) adapterFor(task TaskType) (Adapter, error) {
	name, ok := r.routes[task]
	if !ok {
		name = r.routes[TaskDefault]
	}
	if name == "" {
		return nil, fmt.Errorf("llm: no provider routed for task %s", task)
	}
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("llm: provider %s not registered", name)
	}
	return a, nil
}
