package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/llm/toolconv"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.1"
	defaultOllamaTimeout = 120 * time.Second
)

// OllamaConfig configures the local Ollama adapter.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Ollama adapts a local Ollama daemon's /api/chat endpoint. It accepts
// OpenAI-shaped tool definitions, so the registry converts once.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama builds the adapter with localhost defaults.
func NewOllama(config OllamaConfig) *Ollama {
	if config.BaseURL == "" {
		config.BaseURL = defaultOllamaBaseURL
	}
	if config.Model == "" {
		config.Model = defaultOllamaModel
	}
	if config.Timeout <= 0 {
		config.Timeout = defaultOllamaTimeout
	}
	return &Ollama{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		model:   config.Model,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// Name implements llm.Adapter.
func (p *Ollama) Name() string { return "ollama" }

// Chat implements llm.Adapter.
func (p *Ollama) Chat(ctx context.Context, messages []llm.Message, opts llm.Options) (*llm.Response, error) {
	return p.complete(ctx, messages, nil, opts)
}

// ToolCall implements llm.Adapter.
func (p *Ollama) ToolCall(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	return p.complete(ctx, messages, tools, opts)
}

// Generate implements llm.Adapter.
func (p *Ollama) Generate(ctx context.Context, prompt string, opts llm.Options) (*llm.Response, error) {
	return p.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts)
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Tools    []openai.Tool   `json:"tools,omitempty"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string         `json:"model"`
	Message         *ollamaMessage `json:"message"`
	Done            bool           `json:"done"`
	DoneReason      string         `json:"done_reason"`
	PromptEvalCount int            `json:"prompt_eval_count"`
	EvalCount       int            `json:"eval_count"`
	Error           string         `json:"error,omitempty"`
}

func (p *Ollama) complete(ctx context.Context, messages []llm.Message, tools []llm.Tool, opts llm.Options) (*llm.Response, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}

	payload := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(messages),
		Tools:    toolconv.ToOpenAI(tools),
		Stream:   false,
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		payload.Options = make(map[string]any)
		if opts.Temperature > 0 {
			payload.Options["temperature"] = opts.Temperature
		}
		if opts.MaxTokens > 0 {
			payload.Options["num_predict"] = opts.MaxTokens
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &llm.Error{Kind: llm.KindInvalidRequest, Provider: "ollama", Model: model, Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, llm.Classify("ollama", model, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, llm.Classify("ollama", model, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, llm.Classify("ollama", model, resp.StatusCode,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, &llm.Error{
			Kind: llm.KindTransient, Provider: "ollama", Model: model,
			Message: "decode response", Cause: err,
		}
	}
	if chat.Error != "" {
		return nil, llm.Classify("ollama", model, 0, fmt.Errorf("%s", chat.Error))
	}
	if chat.Message == nil {
		return nil, &llm.Error{
			Kind: llm.KindTransient, Provider: "ollama", Model: model,
			Message: "response has no message",
		}
	}

	out := &llm.Response{
		Content:      chat.Message.Content,
		FinishReason: llm.FinishStop,
		Model:        chat.Model,
		Usage: llm.Usage{
			PromptTokens:     chat.PromptEvalCount,
			CompletionTokens: chat.EvalCount,
			TotalTokens:      chat.PromptEvalCount + chat.EvalCount,
		},
	}
	if chat.DoneReason == "length" {
		out.FinishReason = llm.FinishLength
	}
	for i, call := range chat.Message.ToolCalls {
		args := call.Function.Arguments
		if args == nil {
			args = make(map[string]any)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        fmt.Sprintf("call_%d", i+1),
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishToolCalls
	}
	return out, nil
}

func toOllamaMessages(messages []llm.Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		m := ollamaMessage{Role: msg.Role, Content: msg.Content}
		for _, call := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, ollamaToolCall{
				Function: ollamaToolFunction{Name: call.Name, Arguments: call.Arguments},
			})
		}
		out = append(out, m)
	}
	return out
}
