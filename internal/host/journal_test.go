package host

import (
	"os"
	"path/filepath"
	"testing"
)

func TestJournalUnprocessedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	j, unprocessed, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	if len(unprocessed) != 0 {
		t.Fatalf("fresh journal has %d unprocessed entries", len(unprocessed))
	}

	seq1, err := j.Append("create", "task-20250615-1200-a", "2025-06-15T12:00:00+00:00")
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := j.Append("update", "task-20250615-1200-b", "2025-06-15T12:01:00+00:00"); err != nil {
		t.Fatal(err)
	}
	if err := j.Mark(seq1); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	j.Close()

	// Reopen: only the unmarked entry survives.
	j2, unprocessed, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j2.Close()
	if len(unprocessed) != 1 || unprocessed[0].EntityID != "task-20250615-1200-b" {
		t.Errorf("unprocessed = %+v", unprocessed)
	}
}

func TestJournalToleratesTornTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, _, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := j.Append("create", "task-20250615-1200-a", "2025-06-15T12:00:00+00:00"); err != nil {
		t.Fatal(err)
	}
	j.Close()

	// Simulate a crash mid-append.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"seq":2,"op":"crea`)
	f.Close()

	_, unprocessed, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("reopen after torn write: %v", err)
	}
	if len(unprocessed) != 1 {
		t.Errorf("unprocessed = %+v, want the one complete entry", unprocessed)
	}
}

func TestJournalCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	j, _, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	if _, err := j.Append("create", "task-20250615-1200-a", "2025-06-15T12:00:00+00:00"); err != nil {
		t.Fatal(err)
	}
	if err := j.Compact(); err != nil {
		t.Fatalf("Compact: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("journal size after compact = %d", info.Size())
	}
}
