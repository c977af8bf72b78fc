package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/kira/internal/backoff"
	"github.com/haasonsaas/kira/internal/storage"
)

func testEnvelope(typ, externalID string) Envelope {
	return New("test", typ, externalID, map[string]any{"n": externalID}, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
}

func newSeen(t *testing.T) *SeenStore {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	seen, err := NewSeenStore(db)
	if err != nil {
		t.Fatalf("NewSeenStore: %v", err)
	}
	return seen
}

func TestPublishDeliversInSubscribeOrder(t *testing.T) {
	b := NewBus()
	var order []string
	b.Subscribe("message.received", func(ctx context.Context, env Envelope) error {
		order = append(order, "first")
		return nil
	})
	b.Subscribe("message.received", func(ctx context.Context, env Envelope) error {
		order = append(order, "second")
		return nil
	})

	if err := b.Publish(context.Background(), testEnvelope("message.received", "1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("delivery order = %v", order)
	}
}

func TestPrefixSubscription(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe("entity.", func(ctx context.Context, env Envelope) error {
		got = append(got, env.Type)
		return nil
	})

	for _, typ := range []string{"entity.created", "entity.updated", "task.enter_doing"} {
		if err := b.Publish(context.Background(), testEnvelope(typ, typ)); err != nil {
			t.Fatalf("Publish(%s): %v", typ, err)
		}
	}
	if len(got) != 2 || got[0] != "entity.created" || got[1] != "entity.updated" {
		t.Errorf("prefix matches = %v", got)
	}
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern, typ string
		want         bool
	}{
		{"entity.created", "entity.created", true},
		{"entity.", "entity.created", true},
		{"entity", "entity.created", true},
		{"entity", "entityx.created", false},
		{"task.", "entity.created", false},
		{"message.received", "message", false},
	}
	for _, tt := range tests {
		if got := matchTopic(tt.pattern, tt.typ); got != tt.want {
			t.Errorf("matchTopic(%q, %q) = %v, want %v", tt.pattern, tt.typ, got, tt.want)
		}
	}
}

func TestHandlerFailureRetriedThenExhausted(t *testing.T) {
	b := NewBus()
	fast := backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 1, Jitter: 0}

	var calls int32
	b.Subscribe("x.fail", func(ctx context.Context, env Envelope) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	}, WithRetryPolicy(fast, 3))

	var otherDelivered bool
	b.Subscribe("x.fail", func(ctx context.Context, env Envelope) error {
		otherDelivered = true
		return nil
	})

	if err := b.Publish(context.Background(), testEnvelope("x.fail", "1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("failing handler called %d times, want 3", got)
	}
	if !otherDelivered {
		t.Error("failure in one subscriber blocked another")
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	b := NewBus()
	fast := backoff.Policy{Initial: time.Millisecond, Max: 2 * time.Millisecond, Factor: 1, Jitter: 0}
	b.Subscribe("x.panic", func(ctx context.Context, env Envelope) error {
		panic("handler bug")
	}, WithRetryPolicy(fast, 2))

	if err := b.Publish(context.Background(), testEnvelope("x.panic", "1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestDuplicateEventIDProducesNoSideEffects(t *testing.T) {
	b := NewBus(WithSeenStore(newSeen(t)))
	var calls int32
	b.Subscribe("s5.echo", func(ctx context.Context, env Envelope) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	env := testEnvelope("s5.echo", "same")
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("first Publish: %v", err)
	}
	if err := b.Publish(context.Background(), env); err != nil {
		t.Fatalf("second Publish: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("subscriber invoked %d times, want 1", got)
	}
}

func TestSeenStoreKeepsOneRow(t *testing.T) {
	seen := newSeen(t)
	ctx := context.Background()
	now := time.Now()

	fresh, err := seen.MarkIfNew(ctx, "evt-1", now)
	if err != nil || !fresh {
		t.Fatalf("first MarkIfNew = (%v, %v), want (true, nil)", fresh, err)
	}
	fresh, err = seen.MarkIfNew(ctx, "evt-1", now.Add(time.Second))
	if err != nil || fresh {
		t.Fatalf("second MarkIfNew = (%v, %v), want (false, nil)", fresh, err)
	}

	ok, err := seen.Seen(ctx, "evt-1")
	if err != nil || !ok {
		t.Fatalf("Seen = (%v, %v)", ok, err)
	}
}

func TestSeenStoreSweep(t *testing.T) {
	seen := newSeen(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := seen.MarkIfNew(ctx, "old", base); err != nil {
		t.Fatal(err)
	}
	if _, err := seen.MarkIfNew(ctx, "new", base.Add(40*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	removed, err := seen.Sweep(ctx, base.Add(40*24*time.Hour), DefaultSeenTTL)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if ok, _ := seen.Seen(ctx, "new"); !ok {
		t.Error("recent record swept")
	}
}

func TestOnceSubscription(t *testing.T) {
	b := NewBus()
	var calls int32
	b.Subscribe("x.once", func(ctx context.Context, env Envelope) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, Once())

	for i := 0; i < 3; i++ {
		if err := b.Publish(context.Background(), testEnvelope("x.once", string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("once subscription fired %d times", got)
	}
}

func TestPublishAsyncFIFOPerTopic(t *testing.T) {
	b := NewBus()
	defer b.Close()

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	b.Subscribe("async.topic", func(ctx context.Context, env Envelope) error {
		mu.Lock()
		got = append(got, env.Payload["n"].(string))
		if len(got) == 5 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for _, n := range []string{"1", "2", "3", "4", "5"} {
		if err := b.PublishAsync(context.Background(), testEnvelope("async.topic", n)); err != nil {
			t.Fatalf("PublishAsync: %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async deliveries timed out")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{"1", "2", "3", "4", "5"} {
		if got[i] != want {
			t.Errorf("async order[%d] = %s, want %s (all: %v)", i, got[i], want, got)
		}
	}
}

func TestComputeEventIDDeterministic(t *testing.T) {
	p1 := map[string]any{"b": 2, "a": 1}
	p2 := map[string]any{"a": 1, "b": 2}
	if ComputeEventID("src", "x", p1) != ComputeEventID("src", "x", p2) {
		t.Error("key order changed event ID")
	}
	if ComputeEventID("src", "x", p1) == ComputeEventID("src", "y", p1) {
		t.Error("different external IDs collided")
	}
	if ComputeEventID("a", "x", p1) == ComputeEventID("b", "x", p1) {
		t.Error("different sources collided")
	}
}

func TestEnvelopeValidate(t *testing.T) {
	env := testEnvelope("t.t", "1")
	if err := env.Validate(); err != nil {
		t.Errorf("valid envelope rejected: %v", err)
	}
	missing := env
	missing.EventID = ""
	if err := missing.Validate(); err == nil {
		t.Error("missing event_id accepted")
	}
}
