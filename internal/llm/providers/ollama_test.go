package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/haasonsaas/kira/internal/llm"
)

func TestOllamaChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Stream {
			t.Error("stream requested")
		}
		if req.Messages[0].Role != "user" || req.Messages[0].Content != "hello" {
			t.Errorf("messages = %+v", req.Messages)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:           req.Model,
			Message:         &ollamaMessage{Role: "assistant", Content: "hi there"},
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: 10,
			EvalCount:       5,
		})
	}))
	defer server.Close()

	p := NewOllama(OllamaConfig{BaseURL: server.URL, Model: "llama3.1"})
	resp, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hello"}}, llm.Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi there" || resp.FinishReason != llm.FinishStop {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestOllamaToolCallReturnsStructuredArguments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "task_list" {
			t.Errorf("tools = %+v", req.Tools)
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model: req.Model,
			Message: &ollamaMessage{
				Role: "assistant",
				ToolCalls: []ollamaToolCall{{
					Function: ollamaToolFunction{
						Name:      "task_list",
						Arguments: map[string]any{"status": "todo"},
					},
				}},
			},
			Done: true,
		})
	}))
	defer server.Close()

	p := NewOllama(OllamaConfig{BaseURL: server.URL})
	tools := []llm.Tool{{
		Name:        "task_list",
		Description: "List tasks",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"status": map[string]any{"type": "string"}},
		},
	}}
	resp, err := p.ToolCall(context.Background(),
		[]llm.Message{{Role: llm.RoleUser, Content: "show todos"}}, tools, llm.Options{})
	if err != nil {
		t.Fatalf("ToolCall: %v", err)
	}
	if resp.FinishReason != llm.FinishToolCalls {
		t.Errorf("finish = %s", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "task_list" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["status"] != "todo" {
		t.Errorf("arguments = %+v", resp.ToolCalls[0].Arguments)
	}
}

func TestOllamaStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   llm.ErrorKind
	}{
		{http.StatusTooManyRequests, llm.KindRateLimit},
		{http.StatusInternalServerError, llm.KindTransient},
		{http.StatusBadRequest, llm.KindInvalidRequest},
	}
	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))
		p := NewOllama(OllamaConfig{BaseURL: server.URL})
		_, err := p.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}, llm.Options{})
		if got := llm.KindOf(err); got != tt.want {
			t.Errorf("status %d classified as %s, want %s", tt.status, got, tt.want)
		}
		server.Close()
	}
}
