// Package agent runs the LLM-driven execution graph: plan tool calls via
// native function calling, reflect on destructive plans, execute tools,
// verify outcomes, and synthesize an honest natural-language reply. Session
// memory and pending confirmations persist in SQLite.
package agent

import (
	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/tools"
)

// Graph statuses.
const (
	StatusPlanned   = "planned"
	StatusExecuting = "executing"
	StatusCompleted = "completed"
	StatusError     = "error"
)

// PlanStep is one tool call the plan node scheduled.
type PlanStep struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// State is the shared graph state. Nodes never mutate it directly; they
// return an Update and the runtime merges it.
type State struct {
	SessionID string
	TraceID   string
	DryRun    bool

	// Messages holds the bounded conversation history plus the current
	// user message, last element newest.
	Messages []llm.Message

	Status      string
	Plan        []PlanStep
	CurrentStep int
	ToolResults []*tools.Result
	Reasoning   string
	Error       string
	Response    string
	RetryCount  int
	StepsUsed   int

	// Confirmed marks the restored, user-approved plan so reflection does
	// not ask again. Like the trio below it is cleared at every node
	// boundary; only the restore path emits it, so approval never covers
	// a plan built later in the same run.
	Confirmed bool

	// The confirmation trio. Cleared at every node boundary: a node that
	// needs them to survive must re-emit them (see Update.PreservePending).
	PendingConfirmation  bool
	PendingPlan          []PlanStep
	ConfirmationQuestion string
}

// UserMessage returns the newest user message, or "".
func (s *State) UserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == llm.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// Update is a partial state transition. Zero-value fields are "not set";
// setters mark fields explicitly so the merge only touches what a node
// actually decided. The confirmation trio is special: the runtime clears
// it before every node, so it only survives a transition when the node
// re-emits it.
type Update struct {
	fields map[string]any
}

// NewUpdate returns an empty update.
func NewUpdate() Update {
	return Update{fields: make(map[string]any)}
}

func (u Update) set(key string, value any) Update {
	if u.fields == nil {
		u.fields = make(map[string]any)
	}
	u.fields[key] = value
	return u
}

// Status sets the graph status.
func (u Update) Status(status string) Update { return u.set("status", status) }

// Plan replaces the plan and resets the step cursor.
func (u Update) Plan(plan []PlanStep) Update {
	return u.set("plan", plan).set("current_step", 0)
}

// Step sets the step cursor.
func (u Update) Step(i int) Update { return u.set("current_step", i) }

// AppendResult appends one tool result.
func (u Update) AppendResult(r *tools.Result) Update { return u.set("append_result", r) }

// Reasoning records the planner's free-text reasoning.
func (u Update) Reasoning(text string) Update { return u.set("reasoning", text) }

// Error sets the run error text.
func (u Update) Error(text string) Update { return u.set("error", text) }

// ClearError drops a previous error, used when replanning recovered.
func (u Update) ClearError() Update { return u.set("error", "") }

// Response sets the user-visible reply.
func (u Update) Response(text string) Update { return u.set("response", text) }

// RetryCount sets the replan counter.
func (u Update) RetryCount(n int) Update { return u.set("retry_count", n) }

// StepsUsed sets the budget counter.
func (u Update) StepsUsed(n int) Update { return u.set("steps_used", n) }

// Confirmed marks the plan as user-approved. The flag is reset at every
// node boundary, so it only reaches the routing decision that immediately
// follows this update.
func (u Update) Confirmed() Update { return u.set("confirmed", true) }

// Pending emits the confirmation trio.
func (u Update) Pending(plan []PlanStep, question string) Update {
	u = u.set("pending_confirmation", true)
	u = u.set("pending_plan", plan)
	return u.set("confirmation_question", question)
}

// PreservePending re-emits the current confirmation trio so it survives
// this transition. Without it the runtime clears all three fields.
func (u Update) PreservePending(s *State) Update {
	u = u.set("pending_confirmation", s.PendingConfirmation)
	u = u.set("pending_plan", s.PendingPlan)
	return u.set("confirmation_question", s.ConfirmationQuestion)
}

// apply merges the update into the state. The confirmation trio and the
// approval flag are reset first: neither survives a node implicitly.
func (u Update) apply(s *State) {
	s.Confirmed = false
	s.PendingConfirmation = false
	s.PendingPlan = nil
	s.ConfirmationQuestion = ""

	for key, value := range u.fields {
		switch key {
		case "status":
			s.Status = value.(string)
		case "plan":
			s.Plan = value.([]PlanStep)
		case "current_step":
			s.CurrentStep = value.(int)
		case "append_result":
			s.ToolResults = append(s.ToolResults, value.(*tools.Result))
		case "reasoning":
			s.Reasoning = value.(string)
		case "error":
			s.Error = value.(string)
		case "response":
			s.Response = value.(string)
		case "retry_count":
			s.RetryCount = value.(int)
		case "steps_used":
			s.StepsUsed = value.(int)
		case "confirmed":
			s.Confirmed = value.(bool)
		case "pending_confirmation":
			s.PendingConfirmation = value.(bool)
		case "pending_plan":
			s.PendingPlan = value.([]PlanStep)
		case "confirmation_question":
			s.ConfirmationQuestion = value.(string)
		}
	}
}
