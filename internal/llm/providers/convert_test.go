package providers

import (
	"testing"

	"github.com/haasonsaas/kira/internal/llm"
)

func TestToOpenAIMessagesToolRoundTrip(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "be terse"},
		{Role: llm.RoleUser, Content: "create a task"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
			ID:        "call_1",
			Name:      "task_create",
			Arguments: map[string]any{"title": "Buy milk"},
		}}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Name: "task_create", Content: `{"id":"task-1"}`},
	}

	out := toOpenAIMessages(messages)
	if len(out) != 4 {
		t.Fatalf("len = %d", len(out))
	}
	if out[2].ToolCalls[0].Function.Name != "task_create" {
		t.Errorf("tool call = %+v", out[2].ToolCalls[0])
	}
	if out[2].ToolCalls[0].Function.Arguments != `{"title":"Buy milk"}` {
		t.Errorf("arguments = %s", out[2].ToolCalls[0].Function.Arguments)
	}
	if out[3].ToolCallID != "call_1" {
		t.Errorf("tool result = %+v", out[3])
	}
}

func TestToAnthropicMessagesSplitsSystem(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "be terse"},
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi"},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: "ok"},
	}

	system, out, err := toAnthropicMessages(messages)
	if err != nil {
		t.Fatal(err)
	}
	if system != "be terse" {
		t.Errorf("system = %q", system)
	}
	// System prompt is carried separately; tool results ride as user turns.
	if len(out) != 3 {
		t.Errorf("len = %d", len(out))
	}
}

func TestToAnthropicMessagesRejectsUnknownRole(t *testing.T) {
	_, _, err := toAnthropicMessages([]llm.Message{{Role: "narrator", Content: "x"}})
	if err == nil {
		t.Fatal("unknown role accepted")
	}
}

func TestMapFinishReasons(t *testing.T) {
	if got := mapAnthropicStop("tool_use"); got != llm.FinishToolCalls {
		t.Errorf("tool_use → %s", got)
	}
	if got := mapAnthropicStop("max_tokens"); got != llm.FinishLength {
		t.Errorf("max_tokens → %s", got)
	}
	if got := mapAnthropicStop("end_turn"); got != llm.FinishStop {
		t.Errorf("end_turn → %s", got)
	}
}
