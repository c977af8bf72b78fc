// Package providers implements the llm.Adapter contract for Anthropic,
// OpenAI, and a local Ollama daemon.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/llm/toolconv"
)

const (
	defaultAnthropicModel     = "claude-sonnet-4-20250514"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Anthropic adapts the Anthropic messages API.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds the adapter. The API key is required.
func NewAnthropic(config AnthropicConfig) (*Anthropic, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.Model == "" {
		config.Model = defaultAnthropicModel
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	return &Anthropic{
		client: anthropic.NewClient(options...),
		model:  config.Model,
	}, nil
}

// Name implements llm.Adapter.
func (p *Anthropic) Name() string { return "anthropic" }

// Chat implements llm.Adapter.
func (p *Anthropic) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	return p.complete(ctx, messages, nil, opts)
}

// ToolCall implements llm.Adapter.
func (p *Anthropic) ToolCall(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	return p.complete(ctx, messages, tools, opts)
}

// Generate implements llm.Adapter.
func (p *Anthropic) Generate(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error) {
	return p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts)
}

func (p *Anthropic) complete(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, converted, err := toAnthropicMessages(messages)
	if err != nil {
		return nil, &llm.Error{Kind: llm.KindInvalidRequest, Provider: "anthropic", Model: model, Cause: err}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  converted,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}
	if len(tools) > 0 {
		params.Tools = toolconv.ToAnthropic(tools)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyAnthropic(model, err)
	}

	out := &llm.Response{
		FinishReason: mapAnthropicStop(string(msg.StopReason)),
		Model:        string(msg.Model),
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			args := make(map[string]any)
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, &llm.Error{
						Kind: llm.KindTransient, Provider: "anthropic", Model: model,
						Message: fmt.Sprintf("tool call %s returned unparseable input", block.Name),
						Cause:   err,
					}
				}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// toAnthropicMessages splits out the system prompt and converts the rest.
// Tool results become user-role tool_result blocks per the messages API.
func toAnthropicMessages(messages []llm.Message) (string, []anthropic.MessageParam, error) {
	var system strings.Builder
	var out []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)

		case llm.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case llm.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))

		default:
			return "", nil, fmt.Errorf("unsupported message role %q", msg.Role)
		}
	}
	return system.String(), out, nil
}

func mapAnthropicStop(reason string) string {
	switch reason {
	case "tool_use":
		return llm.FinishToolCalls
	case "max_tokens":
		return llm.FinishLength
	default:
		return llm.FinishStop
	}
}

func classifyAnthropic(model string, err error) error {
	status := 0
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		status = apiErr.StatusCode
	}
	return llm.Classify("anthropic", model, status, err)
}
