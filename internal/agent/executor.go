package agent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/observability"
	"github.com/haasonsaas/kira/internal/tools"
)

const (
	defaultGraphTimeout = 60 * time.Second
	defaultHistoryTurns = 8
)

// Request is one user message entering the graph.
type Request struct {
	Message   string
	SessionID string
	TraceID   string
	// DryRun plans and describes effects without writing the vault.
	DryRun bool
	// Progress receives short status lines while tools run. May be nil;
	// panics inside it are swallowed.
	Progress func(string)
}

// Result is the outcome of one graph run.
type Result struct {
	Response string
	Results  []*tools.Result
	Status   string
	TraceID  string
}

// ExecutorOption customizes the executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the structured logger.
func WithExecutorLogger(logger *observability.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithGraphTimeout caps one full run, LLM calls included.
func WithGraphTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithSessionLockWait bounds how long a queued request waits for its
// session.
func WithSessionLockWait(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.locks = newSessionLocks(d) }
}

// WithHistoryTurns sets how many stored turns enter the prompt.
func WithHistoryTurns(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.historyTurns = n
		}
	}
}

// Executor runs the agent graph with per-session serialization and
// persistent conversation memory.
type Executor struct {
	graph        *Graph
	memory       *SessionMemory
	locks        *sessionLocks
	logger       *observability.Logger
	timeout      time.Duration
	historyTurns int
}

// NewExecutor wires a graph to its session memory.
func NewExecutor(graph *Graph, memory *SessionMemory, opts ...ExecutorOption) *Executor {
	e := &Executor{
		graph:        graph,
		memory:       memory,
		locks:        newSessionLocks(defaultLockWait),
		logger:       observability.Nop(),
		timeout:      defaultGraphTimeout,
		historyTurns: defaultHistoryTurns,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one request through the graph. It always returns a result
// with a non-empty Response, unless the session lock or session storage
// failed before the graph could start.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx = observability.WithTraceID(ctx, traceID)
	ctx = observability.WithSessionID(ctx, sessionID)

	release, err := e.locks.acquire(ctx, sessionID)
	if err != nil {
		e.logger.Warn(ctx, "session lock not acquired", "error", err)
		return nil, err
	}
	defer release()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	history, err := e.memory.History(runCtx, sessionID, e.historyTurns)
	if err != nil {
		return nil, err
	}
	pending, plan, question, err := e.memory.PendingState(runCtx, sessionID)
	if err != nil {
		return nil, err
	}

	state := &State{
		SessionID:            sessionID,
		TraceID:              traceID,
		DryRun:               req.DryRun,
		Messages:             append(history, llm.Message{Role: llm.RoleUser, Content: req.Message}),
		PendingConfirmation:  pending,
		PendingPlan:          plan,
		ConfirmationQuestion: question,
	}

	started := time.Now()
	e.graph.Run(runCtx, state, req.Progress)
	e.logger.Info(ctx, "graph run finished",
		"status", state.Status,
		"steps", state.StepsUsed,
		"duration_ms", time.Since(started).Milliseconds())

	if strings.TrimSpace(state.Response) == "" {
		state.Response = "Не удалось сформировать ответ. Попробуйте ещё раз."
	}

	// Persistence survives the run deadline.
	persistCtx := context.WithoutCancel(ctx)
	e.persist(persistCtx, state, req.Message)

	return &Result{
		Response: state.Response,
		Results:  state.ToolResults,
		Status:   state.Status,
		TraceID:  traceID,
	}, nil
}

func (e *Executor) persist(ctx context.Context, state *State, userMessage string) {
	if err := e.memory.AppendTurn(ctx, state.SessionID, llm.RoleUser, userMessage); err != nil {
		e.logger.Error(ctx, "persist user turn failed", "error", err)
	}
	if err := e.memory.AppendTurn(ctx, state.SessionID, llm.RoleAssistant, state.Response); err != nil {
		e.logger.Error(ctx, "persist assistant turn failed", "error", err)
	}

	if state.PendingConfirmation && len(state.PendingPlan) > 0 {
		err := e.memory.SavePending(ctx, state.SessionID, state.PendingPlan, state.ConfirmationQuestion)
		if err != nil {
			e.logger.Error(ctx, "persist pending confirmation failed", "error", err)
		}
	} else if err := e.memory.ClearPending(ctx, state.SessionID); err != nil {
		e.logger.Error(ctx, "clear pending confirmation failed", "error", err)
	}

	if evicted, err := e.memory.Sweep(ctx); err != nil {
		e.logger.Warn(ctx, "session sweep failed", "error", err)
	} else if evicted > 0 {
		e.logger.Debug(ctx, "sessions evicted", "count", evicted)
	}
}
