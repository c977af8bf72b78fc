package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/kira/internal/backoff"
	"github.com/haasonsaas/kira/internal/observability"
)

// Handler processes a delivered envelope. Delivery is at-least-once;
// handlers must be idempotent.
type Handler func(ctx context.Context, env Envelope) error

// SubscribeOption customizes one subscription.
type SubscribeOption func(*subscription)

// WithFilter delivers only envelopes the predicate accepts.
func WithFilter(filter func(Envelope) bool) SubscribeOption {
	return func(s *subscription) { s.filter = filter }
}

// Once removes the subscription after its first delivery.
func Once() SubscribeOption {
	return func(s *subscription) { s.once = true }
}

// WithRetryPolicy overrides the default per-subscriber retry policy.
func WithRetryPolicy(policy backoff.Policy, attempts int) SubscribeOption {
	return func(s *subscription) {
		s.policy = policy
		s.attempts = attempts
	}
}

type subscription struct {
	pattern  string
	handler  Handler
	filter   func(Envelope) bool
	once     bool
	fired    atomic.Bool
	policy   backoff.Policy
	attempts int
}

// Option customizes the bus.
type Option func(*Bus)

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(b *Bus) { b.logger = logger }
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithSeenStore enables event-ID deduplication.
func WithSeenStore(seen *SeenStore) Option {
	return func(b *Bus) { b.seen = seen }
}

// WithNow injects a clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(b *Bus) { b.now = now }
}

// WithAsyncQueueSize bounds each per-topic async queue.
func WithAsyncQueueSize(n int) Option {
	return func(b *Bus) { b.queueSize = n }
}

// Bus is the in-process pub/sub hub.
//
// Synchronous publish delivers to subscribers in subscribe order within a
// topic and returns after every handler has run. Async publish enqueues
// into a bounded per-topic queue drained by one worker per topic, which
// preserves FIFO per topic but orders nothing across topics.
type Bus struct {
	mu   sync.RWMutex
	subs []*subscription

	seen    *SeenStore
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time

	queueSize int
	asyncMu   sync.Mutex
	queues    map[string]chan Envelope
	wg        sync.WaitGroup
	closed    bool
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		logger:    observability.Nop(),
		now:       time.Now,
		queueSize: 256,
		queues:    make(map[string]chan Envelope),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for a topic name. The name is either exact
// ("entity.created") or a dotted prefix ("entity." matches every entity
// event). The returned function unsubscribes.
func (b *Bus) Subscribe(pattern string, handler Handler, opts ...SubscribeOption) func() {
	sub := &subscription{
		pattern:  pattern,
		handler:  handler,
		policy:   backoff.DeliveryPolicy(),
		attempts: 3,
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	return func() { b.remove(sub) }
}

func (b *Bus) remove(target *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the envelope synchronously and returns after all
// matching handlers have been invoked. Handler failures are retried per
// subscription policy; exhaustion is logged, never propagated, so one
// broken subscriber cannot poison the others.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	fresh, err := b.markSeen(ctx, env)
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}
	b.deliver(ctx, env)
	return nil
}

// PublishAsync enqueues the envelope for background delivery and returns
// immediately. Returns an error when the topic queue is full or the bus is
// closed.
func (b *Bus) PublishAsync(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}

	b.asyncMu.Lock()
	if b.closed {
		b.asyncMu.Unlock()
		return fmt.Errorf("bus: closed")
	}
	queue, ok := b.queues[env.Type]
	if !ok {
		queue = make(chan Envelope, b.queueSize)
		b.queues[env.Type] = queue
		b.wg.Add(1)
		go b.drain(queue)
	}
	b.asyncMu.Unlock()

	select {
	case queue <- env:
		return nil
	default:
		b.metric(env.Type, "dropped")
		return fmt.Errorf("bus: queue full for topic %s", env.Type)
	}
}

// Close stops async workers after their queues drain.
func (b *Bus) Close() {
	b.asyncMu.Lock()
	if b.closed {
		b.asyncMu.Unlock()
		return
	}
	b.closed = true
	for _, queue := range b.queues {
		close(queue)
	}
	b.asyncMu.Unlock()
	b.wg.Wait()
}

func (b *Bus) drain(queue chan Envelope) {
	defer b.wg.Done()
	for env := range queue {
		ctx := observability.WithTraceID(context.Background(), env.TraceID)
		fresh, err := b.markSeen(ctx, env)
		if err != nil {
			b.logger.Error(ctx, "async dedupe check failed", "error", err, "type", env.Type)
			continue
		}
		if fresh {
			b.deliver(ctx, env)
		}
	}
}

// markSeen consults the idempotency store. A previously seen event ID is
// logged and produces no side effects.
func (b *Bus) markSeen(ctx context.Context, env Envelope) (bool, error) {
	if b.seen == nil {
		return true, nil
	}
	fresh, err := b.seen.MarkIfNew(ctx, env.EventID, b.now())
	if err != nil {
		return false, err
	}
	if !fresh {
		b.logger.Info(ctx, "duplicate event deduped",
			"event_id", env.EventID, "type", env.Type, "source", env.Source)
		b.metric(env.Type, "deduped")
	}
	return fresh, nil
}

func (b *Bus) deliver(ctx context.Context, env Envelope) {
	b.mu.RLock()
	matching := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchTopic(sub.pattern, env.Type) {
			matching = append(matching, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range matching {
		if sub.filter != nil && !sub.filter(env) {
			continue
		}
		if sub.once && !sub.fired.CompareAndSwap(false, true) {
			continue
		}

		_, err := backoff.Retry(ctx, sub.policy, sub.attempts, nil, func(attempt int) (struct{}, error) {
			return struct{}{}, b.invoke(ctx, sub, env, attempt)
		})
		switch {
		case err == nil:
			b.metric(env.Type, "ok")
		default:
			b.logger.Error(ctx, "delivery retries exhausted",
				"type", env.Type,
				"event_id", env.EventID,
				"source", env.Source,
				"pattern", sub.pattern,
				"attempts", sub.attempts,
				"error", err,
			)
			b.metric(env.Type, "exhausted")
		}

		if sub.once {
			b.remove(sub)
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub *subscription, env Envelope, attempt int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bus: handler panic: %v", r)
		}
	}()
	if attempt > 1 {
		b.logger.Warn(ctx, "retrying delivery",
			"type", env.Type, "pattern", sub.pattern, "attempt", attempt)
	}
	return sub.handler(ctx, env)
}

func (b *Bus) metric(topic, status string) {
	if b.metrics != nil {
		b.metrics.RecordBusDelivery(topic, status)
	}
}

// matchTopic reports whether a subscription pattern covers an event type:
// exact match, or dotted-prefix match ("entity." or "entity" both cover
// "entity.created").
func matchTopic(pattern, eventType string) bool {
	if pattern == eventType {
		return true
	}
	if strings.HasSuffix(pattern, ".") {
		return strings.HasPrefix(eventType, pattern)
	}
	return strings.HasPrefix(eventType, pattern+".")
}
