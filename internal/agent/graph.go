package agent

import (
	"context"
	"time"

	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/observability"
	"github.com/haasonsaas/kira/internal/tools"
)

// Node names.
const (
	nodePlan    = "plan"
	nodeReflect = "reflect"
	nodeTool    = "tool"
	nodeVerify  = "verify"
	nodeRespond = "respond"
)

const (
	defaultMaxToolCalls = 10
	defaultToolTimeout  = 20 * time.Second
	// massUpdateThreshold is how many task_update steps in one plan count
	// as a mass mutation and trigger reflection.
	massUpdateThreshold = 3
	// maxTransitions bounds the node loop against planner livelock.
	maxTransitions = 48
)

// GraphOption customizes the graph.
type GraphOption func(*Graph)

// WithGraphLogger sets the structured logger.
func WithGraphLogger(logger *observability.Logger) GraphOption {
	return func(g *Graph) { g.logger = logger }
}

// WithMaxToolCalls caps tool executions per run.
func WithMaxToolCalls(n int) GraphOption {
	return func(g *Graph) {
		if n > 0 {
			g.maxToolCalls = n
		}
	}
}

// WithToolTimeout caps a single tool execution.
func WithToolTimeout(d time.Duration) GraphOption {
	return func(g *Graph) {
		if d > 0 {
			g.toolTimeout = d
		}
	}
}

// WithLLMOptions sets per-call token and temperature caps.
func WithLLMOptions(maxTokens int, temperature float64) GraphOption {
	return func(g *Graph) {
		g.maxTokens = maxTokens
		g.temperature = temperature
	}
}

// Graph is the agent state machine. One Graph serves many concurrent runs;
// all per-run data lives in State.
type Graph struct {
	router   *llm.Router
	registry *tools.Registry
	logger   *observability.Logger

	maxToolCalls int
	toolTimeout  time.Duration
	maxTokens    int
	temperature  float64
}

// NewGraph wires the graph to its LLM router and tool registry.
func NewGraph(router *llm.Router, registry *tools.Registry, opts ...GraphOption) *Graph {
	g := &Graph{
		router:       router,
		registry:     registry,
		logger:       observability.Nop(),
		maxToolCalls: defaultMaxToolCalls,
		toolTimeout:  defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Graph) llmOpts() llm.Options {
	return llm.Options{MaxTokens: g.maxTokens, Temperature: g.temperature}
}

// Run executes the graph to completion, mutating s. Every run terminates
// in respond, so s.Response is never empty afterwards.
func (g *Graph) Run(ctx context.Context, s *State, progress func(string)) {
	node := nodePlan
	for i := 0; i < maxTransitions; i++ {
		if err := ctx.Err(); err != nil && node != nodeRespond {
			NewUpdate().Error("request cancelled: " + err.Error()).Status(StatusError).apply(s)
			node = nodeRespond
		}

		g.logger.Debug(ctx, "node enter", "node", node, "status", s.Status)
		var update Update
		switch node {
		case nodePlan:
			update = g.plan(ctx, s)
		case nodeReflect:
			update = g.reflect(ctx, s)
		case nodeTool:
			update = g.tool(ctx, s, progress)
		case nodeVerify:
			update = g.verify(ctx, s)
		case nodeRespond:
			update = g.respond(ctx, s)
		}
		update.apply(s)

		if node == nodeRespond {
			return
		}
		node = g.next(node, s)
	}

	// Transition overflow: force a terminal reply.
	g.logger.Error(ctx, "graph transition overflow", "session_id", s.SessionID)
	NewUpdate().Error("execution did not converge").Status(StatusError).apply(s)
	g.respond(ctx, s).apply(s)
}

// next picks the following node from the merged state; it never mutates
// the state. Every terminating branch goes through respond.
func (g *Graph) next(node string, s *State) string {
	switch node {
	case nodePlan:
		if s.Status == StatusError || s.Status == StatusCompleted {
			return nodeRespond
		}
		if !s.Confirmed && g.needsReflection(s.Plan) {
			return nodeReflect
		}
		return nodeTool

	case nodeReflect:
		if s.Status == StatusError || s.Status == StatusCompleted {
			return nodeRespond
		}
		return nodeTool

	case nodeTool:
		if s.Status == StatusError {
			return nodeRespond
		}
		if last := lastResult(s); last != nil && !last.OK() {
			if s.RetryCount < 2 {
				return nodePlan
			}
			return nodeRespond
		}
		if s.CurrentStep < len(s.Plan) {
			return nodeTool
		}
		return nodeVerify

	case nodeVerify:
		if s.Status == StatusError {
			return nodeRespond
		}
		return nodePlan
	}
	return nodeRespond
}

// needsReflection reports whether the plan carries destructive or mass
// operations: any destructive tool, or a pile of task updates.
func (g *Graph) needsReflection(plan []PlanStep) bool {
	updates := 0
	for _, step := range plan {
		if g.registry.Destructive(step.Tool) {
			return true
		}
		if step.Tool == "task_update" {
			updates++
		}
	}
	return updates >= massUpdateThreshold
}

func lastResult(s *State) *tools.Result {
	if len(s.ToolResults) == 0 {
		return nil
	}
	return s.ToolResults[len(s.ToolResults)-1]
}
