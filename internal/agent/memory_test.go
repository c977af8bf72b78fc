package agent

import (
	"context"
	"testing"
	"time"

	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/storage"
)

func newTestMemory(t *testing.T, opts ...MemoryOption) *SessionMemory {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	m, err := NewSessionMemory(db, opts...)
	if err != nil {
		t.Fatalf("NewSessionMemory: %v", err)
	}
	return m
}

func TestHistoryRoundTripAndOrder(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	turns := []struct{ role, content string }{
		{llm.RoleUser, "first"},
		{llm.RoleAssistant, "second"},
		{llm.RoleUser, "third"},
	}
	for _, turn := range turns {
		if err := m.AppendTurn(ctx, "s1", turn.role, turn.content); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	history, err := m.History(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len = %d", len(history))
	}
	for i, turn := range turns {
		if history[i].Role != turn.role || history[i].Content != turn.content {
			t.Errorf("history[%d] = %+v", i, history[i])
		}
	}
}

func TestHistoryTrimmedToExchangeCap(t *testing.T) {
	m := newTestMemory(t, WithMaxExchanges(2))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		if err := m.AppendTurn(ctx, "s1", role, "turn"); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	history, err := m.History(ctx, "s1", 100)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 4 {
		t.Errorf("len = %d, want 4 (2 exchanges)", len(history))
	}
}

func TestPendingStateLifecycle(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	pending, _, _, err := m.PendingState(ctx, "s1")
	if err != nil || pending {
		t.Fatalf("initial pending = %v, err = %v", pending, err)
	}

	plan := []PlanStep{{Tool: "task_delete", Args: map[string]any{"id": "task-20250615-1200-x"}}}
	if err := m.SavePending(ctx, "s1", plan, "Подтверди?"); err != nil {
		t.Fatalf("SavePending: %v", err)
	}

	pending, loaded, question, err := m.PendingState(ctx, "s1")
	if err != nil {
		t.Fatalf("PendingState: %v", err)
	}
	if !pending || question != "Подтверди?" {
		t.Errorf("pending = %v, question = %q", pending, question)
	}
	if len(loaded) != 1 || loaded[0].Tool != "task_delete" {
		t.Errorf("plan = %+v", loaded)
	}
	if loaded[0].Args["id"] != "task-20250615-1200-x" {
		t.Errorf("args = %v", loaded[0].Args)
	}

	if err := m.ClearPending(ctx, "s1"); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	pending, _, _, err = m.PendingState(ctx, "s1")
	if err != nil || pending {
		t.Errorf("pending after clear = %v, err = %v", pending, err)
	}
}

func TestSavePendingRefusesEmptyPlan(t *testing.T) {
	m := newTestMemory(t)
	if err := m.SavePending(context.Background(), "s1", nil, "q"); err == nil {
		t.Error("empty pending plan accepted")
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	clock := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	m := newTestMemory(t, WithSessionTTL(time.Hour), WithMemoryNow(func() time.Time { return now() }))
	ctx := context.Background()

	if err := m.AppendTurn(ctx, "old", llm.RoleUser, "hi"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	if err := m.SavePending(ctx, "old", []PlanStep{{Tool: "task_delete"}}, "q"); err != nil {
		t.Fatalf("SavePending: %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	if err := m.AppendTurn(ctx, "fresh", llm.RoleUser, "hi"); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	evicted, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}

	history, err := m.History(ctx, "old", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("idle session survived: %d turns", len(history))
	}
	if pending, _, _, _ := m.PendingState(ctx, "old"); pending {
		t.Error("idle session state survived")
	}
	history, _ = m.History(ctx, "fresh", 10)
	if len(history) != 1 {
		t.Errorf("fresh session evicted")
	}
}

func TestSweepEnforcesSessionCap(t *testing.T) {
	clock := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	m := newTestMemory(t,
		WithSessionTTL(24*time.Hour),
		WithMaxSessions(2),
		WithMemoryNow(func() time.Time { return clock }))
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		clock = clock.Add(time.Duration(i) * time.Minute)
		if err := m.AppendTurn(ctx, id, llm.RoleUser, "hi"); err != nil {
			t.Fatalf("AppendTurn: %v", err)
		}
	}

	evicted, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}
	// "a" is the least recently used.
	if history, _ := m.History(ctx, "a", 10); len(history) != 0 {
		t.Error("LRU session survived the cap")
	}
	for _, id := range []string{"b", "c"} {
		if history, _ := m.History(ctx, id, 10); len(history) != 1 {
			t.Errorf("session %s evicted under the cap", id)
		}
	}
}
