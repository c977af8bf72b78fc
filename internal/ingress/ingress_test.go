package ingress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/kira/internal/agent"
	"github.com/haasonsaas/kira/internal/bus"
)

type fakeExecutor struct {
	mu   sync.Mutex
	reqs []agent.Request
	resp *agent.Result
	err  error
}

func (f *fakeExecutor) Execute(ctx context.Context, req agent.Request) (*agent.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

type captureHook struct {
	mu       sync.Mutex
	sessions []string
	texts    []string
}

func (c *captureHook) hook(ctx context.Context, sessionID, text string) error {
	c.mu.Lock()
	c.sessions = append(c.sessions, sessionID)
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	return nil
}

func messageEvent(source, chatID, text string) bus.Envelope {
	return bus.New(source, "message.received", chatID, map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
}

func TestHandleRunsAgentAndReplies(t *testing.T) {
	exec := &fakeExecutor{resp: &agent.Result{Response: "Создал задачу.", Status: agent.StatusCompleted}}
	hook := &captureHook{}
	h := NewHandler(exec, WithResponseHook(hook.hook))

	env := messageEvent("telegram", "42", "Create task 'Buy milk'")
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(exec.reqs) != 1 {
		t.Fatalf("executor calls = %d", len(exec.reqs))
	}
	req := exec.reqs[0]
	if req.SessionID != "telegram:42" {
		t.Errorf("session = %s", req.SessionID)
	}
	if req.Message != "Create task 'Buy milk'" {
		t.Errorf("message = %q", req.Message)
	}
	if req.TraceID == "" {
		t.Error("trace id missing")
	}
	if len(hook.texts) != 1 || hook.texts[0] != "Создал задачу." {
		t.Errorf("replies = %v", hook.texts)
	}
	if hook.sessions[0] != "telegram:42" {
		t.Errorf("reply session = %s", hook.sessions[0])
	}
}

func TestHandleEmptyResponseUsesFallback(t *testing.T) {
	exec := &fakeExecutor{resp: &agent.Result{Response: ""}}
	hook := &captureHook{}
	h := NewHandler(exec, WithResponseHook(hook.hook))

	if err := h.Handle(context.Background(), messageEvent("cli", "1", "hi")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(hook.texts) != 1 || hook.texts[0] != fallbackReply {
		t.Errorf("replies = %v", hook.texts)
	}
}

func TestHandleExecutorFailureRepliesWithError(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("session busy")}
	hook := &captureHook{}
	h := NewHandler(exec, WithResponseHook(hook.hook))

	if err := h.Handle(context.Background(), messageEvent("cli", "1", "hi")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(hook.texts) != 1 || hook.texts[0] != errorReply {
		t.Errorf("replies = %v, want %q", hook.texts, errorReply)
	}
}

func TestHandleIgnoresTextlessEvents(t *testing.T) {
	exec := &fakeExecutor{resp: &agent.Result{Response: "x"}}
	h := NewHandler(exec)

	env := bus.New("telegram", "message.received", "42", map[string]any{"chat_id": "42"},
		time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	if err := h.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(exec.reqs) != 0 {
		t.Errorf("executor invoked for textless event")
	}
}

func TestProgressFactoryWired(t *testing.T) {
	exec := &fakeExecutor{resp: &agent.Result{Response: "x"}}
	var built []string
	h := NewHandler(exec, WithProgressFactory(func(sessionID string) func(string) {
		built = append(built, sessionID)
		return func(string) {}
	}))

	if err := h.Handle(context.Background(), messageEvent("telegram", "7", "hi")); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(built) != 1 || built[0] != "telegram:7" {
		t.Errorf("progress factory calls = %v", built)
	}
	if exec.reqs[0].Progress == nil {
		t.Error("progress callback not passed through")
	}
}

func TestAttachSubscribes(t *testing.T) {
	exec := &fakeExecutor{resp: &agent.Result{Response: "ok"}}
	hook := &captureHook{}
	h := NewHandler(exec, WithResponseHook(hook.hook))

	b := bus.NewBus()
	defer b.Close()
	unsubscribe := h.Attach(b)
	defer unsubscribe()

	if err := b.Publish(context.Background(), messageEvent("telegram", "9", "hello")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(exec.reqs) != 1 {
		t.Errorf("executor calls = %d", len(exec.reqs))
	}
}
