package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/kira/internal/observability"
	"github.com/haasonsaas/kira/internal/tools"
)

var testClock = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func readEntries(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		out = append(out, entry)
	}
	return out
}

func TestRecordToolWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	trail, err := NewTrail(dir, WithTrailNow(func() time.Time { return testClock }))
	if err != nil {
		t.Fatalf("NewTrail: %v", err)
	}

	ctx := observability.WithTraceID(context.Background(), "trace-1")
	trail.RecordTool(ctx, &tools.Result{
		Tool:   "task_create",
		Status: tools.StatusOK,
	}, map[string]any{"title": "Buy milk"})
	trail.RecordTool(ctx, &tools.Result{
		Tool:   "task_delete",
		Status: tools.StatusError,
		Error:  "not found",
	}, map[string]any{"id": "task-20250615-1200-x"})

	if err := trail.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readEntries(t, filepath.Join(dir, "2025-06-15.jsonl"))
	if len(entries) != 2 {
		t.Fatalf("entries = %d", len(entries))
	}
	first := entries[0]
	if first.Tool != "task_create" || first.Status != "ok" || first.TraceID != "trace-1" {
		t.Errorf("entry = %+v", first)
	}
	if first.Args["title"] != "Buy milk" {
		t.Errorf("args = %v", first.Args)
	}
	if entries[1].Error != "not found" {
		t.Errorf("error = %q", entries[1].Error)
	}
}

func TestRecordEventAndRotation(t *testing.T) {
	dir := t.TempDir()
	clock := testClock
	trail, err := NewTrail(dir, WithTrailNow(func() time.Time { return clock }))
	if err != nil {
		t.Fatalf("NewTrail: %v", err)
	}

	trail.RecordEvent(context.Background(), "entity.created", map[string]any{"id": "note-1"})
	clock = clock.AddDate(0, 0, 1)
	trail.RecordEvent(context.Background(), "entity.deleted", map[string]any{"id": "note-1"})

	if err := trail.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	day1 := readEntries(t, filepath.Join(dir, "2025-06-15.jsonl"))
	day2 := readEntries(t, filepath.Join(dir, "2025-06-16.jsonl"))
	if len(day1) != 1 || len(day2) != 1 {
		t.Fatalf("day1 = %d, day2 = %d", len(day1), len(day2))
	}
	if day1[0].Kind != "entity.created" || day2[0].Kind != "entity.deleted" {
		t.Errorf("kinds = %s, %s", day1[0].Kind, day2[0].Kind)
	}
}

func TestOversizedArgsTruncated(t *testing.T) {
	dir := t.TempDir()
	trail, err := NewTrail(dir, WithTrailNow(func() time.Time { return testClock }))
	if err != nil {
		t.Fatalf("NewTrail: %v", err)
	}

	huge := strings.Repeat("x", maxArgBytes*2)
	trail.RecordTool(context.Background(), &tools.Result{
		Tool: "note_create", Status: tools.StatusOK,
	}, map[string]any{"content": huge})

	if err := trail.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries := readEntries(t, filepath.Join(dir, "2025-06-15.jsonl"))
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	stored, _ := entries[0].Args["content"].(string)
	if len(stored) >= len(huge) || !strings.HasSuffix(stored, "…(truncated)") {
		t.Errorf("content not truncated: %d bytes", len(stored))
	}
}
