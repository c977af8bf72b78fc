package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/kira/internal/backoff"
)

// scriptedAdapter returns its queued results in order, repeating the last.
type scriptedAdapter struct {
	name    string
	results []result
	calls   int
}

type result struct {
	resp *Response
	err  error
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) next() (*Response, error) {
	i := a.calls
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	a.calls++
	r := a.results[i]
	return r.resp, r.err
}

func (a *scriptedAdapter) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	return a.next()
}

func (a *scriptedAdapter) ToolCall(ctx context.Context, messages []Message, tools []Tool, opts Options) (*Response, error) {
	return a.next()
}

func (a *scriptedAdapter) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	return a.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, opts)
}

var fastPolicy = backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 1, Jitter: 0}

func okResponse(model string) *Response {
	return &Response{Content: "hi", FinishReason: FinishStop, Model: model}
}

func TestRouterRetriesTransientThenSucceeds(t *testing.T) {
	primary := &scriptedAdapter{name: "anthropic", results: []result{
		{err: &Error{Kind: KindRateLimit, Provider: "anthropic"}},
		{err: &Error{Kind: KindTransient, Provider: "anthropic"}},
		{resp: okResponse("claude")},
	}}
	r := NewRouter(
		WithAdapter(primary),
		WithRoute(TaskDefault, "anthropic"),
		WithRouterPolicy(fastPolicy),
	)

	resp, err := r.Chat(context.Background(), TaskDefault, nil, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi" {
		t.Errorf("content = %q", resp.Content)
	}
	if primary.calls != 3 {
		t.Errorf("primary called %d times, want 3", primary.calls)
	}
}

func TestRouterAuthNotRetriedNoFallback(t *testing.T) {
	primary := &scriptedAdapter{name: "openai", results: []result{
		{err: &Error{Kind: KindAuth, Provider: "openai"}},
	}}
	local := &scriptedAdapter{name: "ollama", results: []result{{resp: okResponse("llama")}}}
	r := NewRouter(
		WithAdapter(primary),
		WithAdapter(local),
		WithRoute(TaskDefault, "openai"),
		WithLocalFallback("ollama"),
		WithRouterPolicy(fastPolicy),
	)

	_, err := r.Chat(context.Background(), TaskDefault, nil, Options{})
	if KindOf(err) != KindAuth {
		t.Fatalf("err = %v, want auth", err)
	}
	if primary.calls != 1 {
		t.Errorf("auth error retried: %d calls", primary.calls)
	}
	if local.calls != 0 {
		t.Error("auth error triggered fallback")
	}
}

func TestRouterInvalidRequestNotRetried(t *testing.T) {
	primary := &scriptedAdapter{name: "openai", results: []result{
		{err: &Error{Kind: KindInvalidRequest, Provider: "openai"}},
	}}
	r := NewRouter(
		WithAdapter(primary),
		WithRoute(TaskDefault, "openai"),
		WithRouterPolicy(fastPolicy),
	)

	_, err := r.Chat(context.Background(), TaskDefault, nil, Options{})
	if KindOf(err) != KindInvalidRequest {
		t.Fatalf("err = %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("invalid request retried: %d calls", primary.calls)
	}
}

func TestRouterFallsBackAfterExhaustion(t *testing.T) {
	primary := &scriptedAdapter{name: "anthropic", results: []result{
		{err: &Error{Kind: KindTransient, Provider: "anthropic"}},
	}}
	local := &scriptedAdapter{name: "ollama", results: []result{{resp: okResponse("llama")}}}
	r := NewRouter(
		WithAdapter(primary),
		WithAdapter(local),
		WithRoute(TaskDefault, "anthropic"),
		WithLocalFallback("ollama"),
		WithRouterPolicy(fastPolicy),
	)

	resp, err := r.Chat(context.Background(), TaskDefault, nil, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Model != "llama" {
		t.Errorf("model = %s, want llama", resp.Model)
	}
	if primary.calls != 3 {
		t.Errorf("primary attempts = %d, want 3", primary.calls)
	}
	if local.calls != 1 {
		t.Errorf("fallback attempts = %d, want 1", local.calls)
	}
}

func TestRouterTaskRoutingFallsBackToDefault(t *testing.T) {
	planning := &scriptedAdapter{name: "anthropic", results: []result{{resp: okResponse("claude")}}}
	fallback := &scriptedAdapter{name: "openai", results: []result{{resp: okResponse("gpt")}}}
	r := NewRouter(
		WithAdapter(planning),
		WithAdapter(fallback),
		WithRoute(TaskPlanning, "anthropic"),
		WithRoute(TaskDefault, "openai"),
		WithRouterPolicy(fastPolicy),
	)

	resp, err := r.Chat(context.Background(), TaskPlanning, nil, Options{})
	if err != nil || resp.Model != "claude" {
		t.Errorf("planning route: %v %v", resp, err)
	}
	resp, err = r.Chat(context.Background(), TaskStructuring, nil, Options{})
	if err != nil || resp.Model != "gpt" {
		t.Errorf("unrouted task should use default: %v %v", resp, err)
	}
}

func TestRouterUnknownProvider(t *testing.T) {
	r := NewRouter(WithRoute(TaskDefault, "missing"), WithRouterPolicy(fastPolicy))
	if _, err := r.Chat(context.Background(), TaskDefault, nil, Options{}); err == nil {
		t.Fatal("call with unregistered provider succeeded")
	}
}

func TestKindOfClassifiesRawErrors(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{context.DeadlineExceeded, KindTimeout},
		{errors.New("429 too many requests"), KindRateLimit},
		{errors.New("invalid api key"), KindAuth},
		{errors.New("connection reset by peer"), KindTransient},
		{&Error{Kind: KindInvalidRequest}, KindInvalidRequest},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestClassifyUsesStatus(t *testing.T) {
	err := Classify("openai", "gpt", 429, errors.New("slow down"))
	if err.Kind != KindRateLimit {
		t.Errorf("kind = %s", err.Kind)
	}
	err = Classify("openai", "gpt", 401, errors.New("nope"))
	if err.Kind != KindAuth {
		t.Errorf("kind = %s", err.Kind)
	}
	err = Classify("openai", "gpt", 503, errors.New("overloaded"))
	if err.Kind != KindTransient {
		t.Errorf("kind = %s", err.Kind)
	}
}
