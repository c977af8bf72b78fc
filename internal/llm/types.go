// Package llm defines the provider-independent adapter contract and the
// router that maps task types to providers with retry and local fallback.
package llm

import (
	"context"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	// ToolCalls carries the assistant's tool invocations when replaying
	// history back to the provider.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID ties a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	// Name is the tool name for tool-role messages.
	Name string `json:"name,omitempty"`
}

// Tool describes one callable function exposed to the model.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// Parameters is a JSON schema object describing the arguments.
	Parameters map[string]any `json:"parameters"`
}

// ToolCall is a structured tool invocation returned by the model.
// Arguments is always a decoded object; callers never parse text.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Usage is the token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Finish reasons.
const (
	FinishStop      = "stop"
	FinishToolCalls = "tool_calls"
	FinishLength    = "length"
)

// Response is the unified completion result.
type Response struct {
	Content      string     `json:"content"`
	FinishReason string     `json:"finish_reason"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        Usage      `json:"usage"`
	Model        string     `json:"model"`
}

// Options are per-call generation parameters. Zero values fall back to
// adapter defaults.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Adapter is the provider contract. Implementations must be safe for
// concurrent use.
type Adapter interface {
	// Name returns the stable lowercase provider identifier.
	Name() string
	// Chat sends a conversation and returns the completion.
	Chat(ctx context.Context, messages []Message, opts Options) (*Response, error)
	// ToolCall sends a conversation with tools via native function
	// calling. The response's ToolCalls may be empty.
	ToolCall(ctx context.Context, messages []Message, tools []Tool, opts Options) (*Response, error)
	// Generate is the single-turn convenience wrapper around Chat.
	Generate(ctx context.Context, prompt string, opts Options) (*Response, error)
}
