// Package ingress turns message.received bus events into agent runs:
// session correlation, trace derivation, progress pass-through, and the
// adapter response hook.
package ingress

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/haasonsaas/kira/internal/agent"
	"github.com/haasonsaas/kira/internal/bus"
	"github.com/haasonsaas/kira/internal/observability"
)

const (
	// fallbackReply covers a successful run that produced no reply text.
	fallbackReply = "Готово."
	// errorReply goes out when the run itself failed; it must not read as
	// success.
	errorReply = "Не удалось обработать запрос, попробуйте ещё раз."
)

// Executor runs one message through the agent graph.
type Executor interface {
	Execute(ctx context.Context, req agent.Request) (*agent.Result, error)
}

// ResponseHook delivers the reply back to the originating adapter.
type ResponseHook func(ctx context.Context, sessionID, text string) error

// ProgressFactory builds the per-message progress callback, typically a
// typing indicator in the chat. May return nil.
type ProgressFactory func(sessionID string) func(string)

// Option customizes the handler.
type Option func(*Handler)

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithResponseHook sets the adapter reply delivery.
func WithResponseHook(hook ResponseHook) Option {
	return func(h *Handler) { h.respond = hook }
}

// WithProgressFactory sets the per-message progress callback builder.
func WithProgressFactory(f ProgressFactory) Option {
	return func(h *Handler) { h.progress = f }
}

// Handler correlates inbound messages to sessions and invokes the agent.
type Handler struct {
	executor Executor
	logger   *observability.Logger
	respond  ResponseHook
	progress ProgressFactory
}

// NewHandler builds the message handler.
func NewHandler(executor Executor, opts ...Option) *Handler {
	h := &Handler{
		executor: executor,
		logger:   observability.Nop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach subscribes the handler to message.received and returns the
// unsubscribe func.
func (h *Handler) Attach(b *bus.Bus) func() {
	return b.Subscribe("message.received", h.Handle)
}

// Handle processes one message.received event.
func (h *Handler) Handle(ctx context.Context, env bus.Envelope) error {
	text, _ := env.Payload["text"].(string)
	if text == "" {
		h.logger.Warn(ctx, "message event without text", "event_id", env.EventID)
		return nil
	}
	chatID, _ := env.Payload["chat_id"].(string)
	if chatID == "" {
		chatID = "unknown"
	}

	sessionID := fmt.Sprintf("%s:%s", env.Source, chatID)
	traceID := env.TraceID
	if traceID == "" {
		traceID = fmt.Sprintf("%s-%s-%s", env.Source, chatID, uuid.NewString())
	}

	var progress func(string)
	if h.progress != nil {
		progress = h.progress(sessionID)
	}

	result, err := h.executor.Execute(ctx, agent.Request{
		Message:   text,
		SessionID: sessionID,
		TraceID:   traceID,
		Progress:  progress,
	})
	if err != nil {
		h.logger.Error(ctx, "agent run failed", "session_id", sessionID, "error", err)
		return h.deliver(ctx, sessionID, errorReply)
	}

	reply := result.Response
	if reply == "" {
		reply = fallbackReply
	}
	return h.deliver(ctx, sessionID, reply)
}

func (h *Handler) deliver(ctx context.Context, sessionID, text string) error {
	if h.respond == nil {
		return nil
	}
	if err := h.respond(ctx, sessionID, text); err != nil {
		h.logger.Error(ctx, "reply delivery failed", "session_id", sessionID, "error", err)
		return err
	}
	return nil
}
