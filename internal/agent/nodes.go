package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/tools"
	"github.com/haasonsaas/kira/internal/vault"
)

// plan decides the next tool calls, or resolves a pending confirmation.
func (g *Graph) plan(ctx context.Context, s *State) Update {
	if s.PendingConfirmation && len(s.PendingPlan) > 0 {
		switch classifyConfirmation(s.UserMessage()) {
		case confirmAffirm:
			g.logger.Info(ctx, "confirmation accepted", "steps", len(s.PendingPlan))
			return NewUpdate().Plan(s.PendingPlan).Confirmed().Status(StatusPlanned)
		case confirmReject:
			g.logger.Info(ctx, "confirmation declined")
			return NewUpdate().Plan(nil).Status(StatusCompleted).
				Response("Хорошо, отменяю. Операция не выполнена.")
		default:
			// A new request abandons the pending plan. The trio stays
			// cleared because this update does not re-emit it.
			g.logger.Info(ctx, "pending confirmation abandoned by new request")
		}
	}

	messages := make([]llm.Message, 0, len(s.Messages)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: planSystemPrompt})
	messages = append(messages, s.Messages...)
	if len(s.ToolResults) > 0 {
		messages = append(messages, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Execution results so far:\n" + renderResults(s.ToolResults),
		})
	}

	resp, err := g.router.ToolCall(ctx, llm.TaskPlanning, messages, g.registry.ToAPIFormat(), g.llmOpts())
	if err != nil {
		return NewUpdate().Error(fmt.Sprintf("planning failed: %v", err)).Status(StatusError)
	}

	if len(resp.ToolCalls) == 0 {
		u := NewUpdate().Plan(nil).Status(StatusCompleted).Reasoning(resp.Content)
		if strings.TrimSpace(resp.Content) != "" {
			u = u.Response(resp.Content)
		}
		return u
	}

	plan := make([]PlanStep, 0, len(resp.ToolCalls))
	for _, call := range resp.ToolCalls {
		plan = append(plan, PlanStep{Tool: call.Name, Args: call.Arguments})
	}
	g.logger.Info(ctx, "plan built", "steps", len(plan))
	return NewUpdate().Plan(plan).Reasoning(resp.Content).Status(StatusPlanned)
}

// reflect reviews a destructive plan before it runs.
func (g *Graph) reflect(ctx context.Context, s *State) Update {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: reflectSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf("User request: %s\n\nProposed plan:\n%s",
			s.UserMessage(), describePlan(s.Plan))},
	}
	review := []llm.Tool{{
		Name:        reviewPlanTool.Name,
		Description: reviewPlanTool.Description,
		Parameters:  reviewPlanTool.Parameters,
	}}

	resp, err := g.router.ToolCall(ctx, llm.TaskStructuring, messages, review, g.llmOpts())
	if err != nil {
		return NewUpdate().Plan(nil).
			Error(fmt.Sprintf("plan review failed: %v", err)).Status(StatusError)
	}

	verdict, question, reason := "", "", ""
	for _, call := range resp.ToolCalls {
		if call.Name != reviewPlanTool.Name {
			continue
		}
		verdict, _ = call.Arguments["verdict"].(string)
		question, _ = call.Arguments["question"].(string)
		reason, _ = call.Arguments["reason"].(string)
		break
	}

	switch verdict {
	case "safe":
		return NewUpdate().Status(StatusPlanned)
	case "unsafe":
		if reason == "" {
			reason = "the reviewer rejected the plan"
		}
		g.logger.Warn(ctx, "plan rejected", "reason", reason)
		return NewUpdate().Plan(nil).Error("plan rejected: " + reason).Status(StatusError)
	default:
		// needs_confirmation, and any verdict we cannot parse: a
		// destructive plan without a clear review waits for the user.
		if question == "" {
			question = fallbackQuestion(s.Plan)
		}
		g.logger.Info(ctx, "confirmation required", "steps", len(s.Plan))
		return NewUpdate().Plan(nil).Pending(s.Plan, question).Status(StatusCompleted)
	}
}

// tool executes the plan step at the cursor.
func (g *Graph) tool(ctx context.Context, s *State, progress func(string)) Update {
	if s.StepsUsed >= g.maxToolCalls {
		g.logger.Warn(ctx, "tool budget exhausted", "used", s.StepsUsed)
		return NewUpdate().Error(ErrBudgetExceeded.Error()).Status(StatusError)
	}
	if s.CurrentStep >= len(s.Plan) {
		return NewUpdate().Error("plan cursor out of range").Status(StatusError)
	}
	step := s.Plan[s.CurrentStep]

	notifyProgress(progress, progressText(step.Tool, step.Args))

	toolCtx, cancel := context.WithTimeout(ctx, g.toolTimeout)
	result := g.registry.Execute(toolCtx, step.Tool, step.Args, s.DryRun)
	cancel()

	u := NewUpdate().
		AppendResult(result).
		StepsUsed(s.StepsUsed + 1).
		Step(s.CurrentStep + 1).
		Status(StatusExecuting)
	if !result.OK() {
		// Each failure charges the replan budget; routing replans while
		// the count stays under 2.
		u = u.RetryCount(s.RetryCount + 1)
	}
	return u
}

// notifyProgress invokes the adapter callback; a panicking callback never
// takes the run down.
func notifyProgress(progress func(string), text string) {
	if progress == nil {
		return
	}
	defer func() { _ = recover() }()
	progress(text)
}

// verify is a cheap post-execution sanity pass: no LLM call.
func (g *Graph) verify(ctx context.Context, s *State) Update {
	for _, result := range s.ToolResults {
		if !result.OK() {
			continue
		}
		data, ok := result.Data.(map[string]any)
		if !ok {
			continue
		}
		if id, ok := data["id"].(string); ok && id != "" && !vault.ValidID(id) {
			g.logger.Warn(ctx, "verification failed", "tool", result.Tool, "id", id)
			return NewUpdate().
				Error(fmt.Sprintf("%s returned malformed entity id %q", result.Tool, id)).
				Status(StatusError)
		}
	}
	return NewUpdate().Status(StatusExecuting)
}

// respond produces the user-visible reply. It always sets Response.
func (g *Graph) respond(ctx context.Context, s *State) Update {
	if s.PendingConfirmation && s.ConfirmationQuestion != "" {
		// The question goes out verbatim and the trio must survive the
		// graph exit, so it is re-emitted here.
		return NewUpdate().
			Response(s.ConfirmationQuestion).
			Status(StatusCompleted).
			PreservePending(s)
	}

	// A reply decided earlier (declined confirmation, casual conversation
	// answered during planning) stands as-is.
	if s.Response != "" && s.Error == "" {
		return NewUpdate().Status(StatusCompleted)
	}

	errText := s.Error
	if errText == "" && len(s.ToolResults) == 0 && len(s.Plan) > 0 {
		// A plan existed but nothing ran and nothing failed: answering
		// now would invite invented success.
		errText = "no operation was performed"
	}

	prompt := fmt.Sprintf("User request: %s\n\nExecution results:\n%s",
		s.UserMessage(), renderResults(s.ToolResults))
	if errText != "" {
		prompt += "\nError: " + errText
	}
	messages := make([]llm.Message, 0, len(s.Messages)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: respondSystemPrompt})
	messages = append(messages, s.Messages...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	status := StatusCompleted
	if errText != "" {
		status = StatusError
	}

	resp, err := g.router.Chat(ctx, llm.TaskDefault, messages, g.llmOpts())
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		if err != nil {
			g.logger.Warn(ctx, "respond llm failed, using fallback", "error", err)
		}
		return NewUpdate().Response(fallbackReply(s, errText)).Status(status).Error(errText)
	}
	return NewUpdate().Response(resp.Content).Status(status).Error(errText)
}

// fallbackReply is the deterministic reply used when the respond LLM call
// fails. The graph never returns an empty response.
func fallbackReply(s *State, errText string) string {
	if errText != "" {
		return "Operation failed: " + errText
	}
	okCount := 0
	for _, r := range s.ToolResults {
		if r.OK() {
			okCount++
		}
	}
	if failed := len(s.ToolResults) - okCount; failed > 0 {
		return fmt.Sprintf("%d of %d operations failed. See the log for details.",
			failed, len(s.ToolResults))
	}
	if okCount > 0 {
		return fmt.Sprintf("Done: %d operation(s) completed.", okCount)
	}
	return "Nothing to do."
}

// renderResults formats execution outcomes for prompts, with explicit
// success and failure markers.
func renderResults(results []*tools.Result) string {
	if len(results) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, r := range results {
		if r.OK() {
			fmt.Fprintf(&b, "✅ %s: %s\n", r.Tool, compactJSON(r.Data))
		} else {
			fmt.Fprintf(&b, "❌ %s: %s\n", r.Tool, r.Error)
		}
	}
	return b.String()
}

const maxResultRender = 2000

func compactJSON(v any) string {
	if v == nil {
		return "ok"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	if len(raw) > maxResultRender {
		return string(raw[:maxResultRender]) + "…(truncated)"
	}
	return string(raw)
}
