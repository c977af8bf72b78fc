package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/observability"
)

// Auditor receives every execution outcome, arguments included. Wired to
// the audit log in production; nil disables.
type Auditor interface {
	RecordTool(ctx context.Context, result *Result, args map[string]any)
}

// RegistryOption customizes the registry.
type RegistryOption func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics records execution outcomes.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithAuditor wires the audit trail.
func WithAuditor(a Auditor) RegistryOption {
	return func(r *Registry) { r.auditor = a }
}

// WithNow injects a clock, used by tests.
func WithNow(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// Registry holds the callable tools and is the only path from them to LLM
// function schemas.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema

	logger  *observability.Logger
	metrics *observability.Metrics
	auditor Auditor
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		logger:  observability.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool, compiling its parameter schema. Re-registering a
// name replaces the previous tool.
func (r *Registry) Register(tool Tool) error {
	raw, err := json.Marshal(tool.Parameters())
	if err != nil {
		return fmt.Errorf("tools: %s parameters not serializable: %w", tool.Name(), err)
	}
	schema, err := jsonschema.CompileString(tool.Name()+".json", string(raw))
	if err != nil {
		return fmt.Errorf("tools: %s parameter schema invalid: %w", tool.Name(), err)
	}

	r.mu.Lock()
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	r.mu.Unlock()
	return nil
}

// MustRegister panics on registration failure, for wiring at startup.
func (r *Registry) MustRegister(tool Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Destructive reports whether the named tool is flagged destructive.
// Unknown tools count as destructive so reflection errs on the safe side.
func (r *Registry) Destructive(name string) bool {
	tool, ok := r.Get(name)
	if !ok {
		return true
	}
	return tool.Destructive()
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ToAPIFormat renders the registry as provider-neutral tool definitions.
func (r *Registry) ToAPIFormat() []llm.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		out = append(out, llm.Tool{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Parameters(),
		})
	}
	return out
}

// Execute validates arguments and runs the named tool. Failures of any
// sort become Status=error results; Execute never panics and never returns
// an error value.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, dryRun bool) *Result {
	result := &Result{Tool: name, Status: StatusOK, DryRun: dryRun}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		result.Status = StatusError
		result.Error = fmt.Sprintf("unknown tool %q", name)
		r.finish(ctx, result, args, 0)
		return result
	}

	if args == nil {
		args = make(map[string]any)
	}
	if err := validateArgs(schema, args); err != nil {
		result.Status = StatusError
		result.Error = fmt.Sprintf("invalid arguments: %v", err)
		r.finish(ctx, result, args, 0)
		return result
	}

	start := r.now()
	data, err := r.safeExecute(ctx, tool, args, dryRun)
	elapsed := r.now().Sub(start)

	if err != nil {
		result.Status = StatusError
		result.Error = err.Error()
	} else {
		result.Data = data
	}
	r.finish(ctx, result, args, elapsed)
	return result
}

func (r *Registry) safeExecute(ctx context.Context, tool Tool, args map[string]any, dryRun bool) (data any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("tool panic: %v", rec)
		}
	}()
	return tool.Execute(ctx, args, dryRun)
}

func (r *Registry) finish(ctx context.Context, result *Result, args map[string]any, elapsed time.Duration) {
	if result.OK() {
		r.logger.Debug(ctx, "tool executed",
			"tool", result.Tool, "dry_run", result.DryRun, "duration_ms", elapsed.Milliseconds())
	} else {
		r.logger.Warn(ctx, "tool failed",
			"tool", result.Tool, "dry_run", result.DryRun, "error", result.Error)
	}
	if r.metrics != nil {
		r.metrics.RecordToolExecution(result.Tool, result.Status, elapsed.Seconds())
	}
	if r.auditor != nil {
		r.auditor.RecordTool(ctx, result, args)
	}
}

func validateArgs(schema *jsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if ok := errorsAs(err, &ve); ok {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			return fmt.Errorf("%s", leaf.Message)
		}
		return err
	}
	return nil
}

func errorsAs(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
