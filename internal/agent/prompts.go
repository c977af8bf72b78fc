package agent

import (
	"fmt"
	"sort"
	"strings"
)

const planSystemPrompt = `You are Kira, a personal assistant managing tasks and notes in the user's vault.

Rules:
- Always call tools to retrieve data. Never answer factual questions about tasks or notes from conversation history alone.
- Prefer several tool calls in one turn when the operations are independent.
- If the user is making casual conversation and no vault operation is needed, call no tools and reply conversationally.
- Use only the tools provided. Do not invent tool names or arguments.`

const respondSystemPrompt = `You are Kira, reporting the outcome of vault operations to the user.

Strict honesty rules:
- If any tool result has status=error you MUST NOT claim success. State plainly what failed and why.
- Base your reply only on the execution results provided below. Never fabricate IDs, titles, counts, or any data that is not in the results.
- Conversation history is context, not a source of facts.
- Reply in the language the user wrote in. Be brief.`

const reflectSystemPrompt = `You review a plan of tool calls before execution. The plan contains destructive or mass operations.

Call review_plan exactly once:
- verdict=unsafe when the plan is fundamentally broken: wrong tool, missing required arguments, targets that make no sense.
- verdict=needs_confirmation when the plan is coherent but destructive, so the user must approve it first. Write a short question in the user's language listing every affected entity ID.
- verdict=safe only when the plan is neither broken nor destructive.`

// reviewPlanTool is the function-calling schema the reflect node offers.
// Structured verdicts come back as tool arguments, never as free JSON.
var reviewPlanTool = struct {
	Name        string
	Description string
	Parameters  map[string]any
}{
	Name:        "review_plan",
	Description: "Deliver the review verdict for the proposed plan.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"verdict": map[string]any{
				"type": "string",
				"enum": []any{"safe", "unsafe", "needs_confirmation"},
			},
			"question": map[string]any{
				"type":        "string",
				"description": "Confirmation question for the user, required when verdict=needs_confirmation",
			},
			"reason": map[string]any{
				"type":        "string",
				"description": "Why the plan is unsafe, required when verdict=unsafe",
			},
		},
		"required": []any{"verdict"},
	},
}

// describePlan renders a plan for the reflect prompt.
func describePlan(plan []PlanStep) string {
	var b strings.Builder
	for i, step := range plan {
		fmt.Fprintf(&b, "%d. %s(", i+1, step.Tool)
		keys := make([]string, 0, len(step.Args))
		for k := range step.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for j, k := range keys {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, step.Args[k])
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// fallbackQuestion builds a deterministic confirmation question when the
// reviewer did not supply one.
func fallbackQuestion(plan []PlanStep) string {
	var ids []string
	for _, step := range plan {
		if id, ok := step.Args["id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Sprintf("Подтверди выполнение %d операций? (yes/no)", len(plan))
	}
	return fmt.Sprintf("Подтверди удаление/изменение: %s? (yes/no)", strings.Join(ids, ", "))
}

// progressText is what the progress callback shows while a tool runs.
func progressText(tool string, args map[string]any) string {
	if id, ok := args["id"].(string); ok && id != "" {
		return fmt.Sprintf("%s %s…", tool, id)
	}
	if title, ok := args["title"].(string); ok && title != "" {
		return fmt.Sprintf("%s %q…", tool, title)
	}
	return tool + "…"
}
