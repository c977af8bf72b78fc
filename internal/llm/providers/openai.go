package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/llm/toolconv"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIConfig configures the OpenAI adapter.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// OpenAI adapts the OpenAI chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI builds the adapter. The API key is required.
func NewOpenAI(config OpenAIConfig) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.Model == "" {
		config.Model = defaultOpenAIModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  config.Model,
	}, nil
}

// Name implements llm.Adapter.
func (p *OpenAI) Name() string { return "openai" }

// Chat implements llm.Adapter.
func (p *OpenAI) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	return p.complete(ctx, messages, nil, opts)
}

// ToolCall implements llm.Adapter.
func (p *OpenAI) ToolCall(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	return p.complete(ctx, messages, tools, opts)
}

// Generate implements llm.Adapter.
func (p *OpenAI) Generate(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error) {
	return p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts)
}

func (p *OpenAI) complete(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(opts.Temperature),
		MaxTokens:   opts.MaxTokens,
		Tools:       toolconv.ToOpenAI(tools),
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAI(model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &llm.Error{
			Kind: llm.KindTransient, Provider: "openai", Model: model,
			Message: "response has no choices",
		}
	}

	choice := resp.Choices[0]
	out := &llm.Response{
		Content:      choice.Message.Content,
		FinishReason: mapOpenAIFinish(choice.FinishReason),
		Model:        resp.Model,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, &llm.Error{
					Kind: llm.KindTransient, Provider: "openai", Model: model,
					Message: fmt.Sprintf("tool call %s returned unparseable arguments", call.Function.Name),
					Cause:   err,
				}
			}
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func toOpenAIMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == llm.RoleTool {
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.Name
		}
		for _, call := range msg.ToolCalls {
			args, _ := json.Marshal(call.Arguments)
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: string(args),
				},
			})
		}
		out = append(out, m)
	}
	return out
}

func mapOpenAIFinish(reason openai.FinishReason) string {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return llm.FinishToolCalls
	case openai.FinishReasonLength:
		return llm.FinishLength
	default:
		return llm.FinishStop
	}
}

func classifyOpenAI(model string, err error) error {
	status := 0
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		status = reqErr.HTTPStatusCode
	}
	return llm.Classify("openai", model, status, err)
}
