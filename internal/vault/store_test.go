package vault

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func TestStoreWriteReadEntity(t *testing.T) {
	store := newTestStore(t)
	entity := &Entity{
		ID:   "task-20250615-1430-buy-milk",
		Kind: "task",
		Metadata: map[string]any{
			"title":      "Buy milk",
			"status":     "todo",
			"created_ts": "2025-06-15T14:30:00+00:00",
			"updated_ts": "2025-06-15T14:30:00+00:00",
		},
		Content: "2% if they have it.\n",
	}
	if err := store.WriteEntity(entity); err != nil {
		t.Fatalf("WriteEntity: %v", err)
	}

	got, err := store.ReadEntity("task", entity.ID)
	if err != nil {
		t.Fatalf("ReadEntity: %v", err)
	}
	if got.Title() != "Buy milk" || got.Status() != "todo" {
		t.Errorf("read back title=%q status=%q", got.Title(), got.Status())
	}
	if got.Content != entity.Content {
		t.Errorf("content = %q, want %q", got.Content, entity.Content)
	}
	if got.Path != filepath.Join("tasks", entity.ID+".md") {
		t.Errorf("path = %q", got.Path)
	}
}

func TestStoreReadMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.ReadEntity("task", "task-20250101-0000-none")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	e := &Entity{ID: "note-20250101-0900-n", Kind: "note", Metadata: map[string]any{"title": "n"}}
	if err := store.WriteEntity(e); err != nil {
		t.Fatalf("WriteEntity: %v", err)
	}
	if err := store.Delete("note", e.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if store.Exists("note", e.ID) {
		t.Error("entity still exists after delete")
	}
}

func TestStoreListSorted(t *testing.T) {
	store := newTestStore(t)
	ids := []string{
		"task-20250615-1430-b",
		"task-20250101-0900-a",
		"task-20251231-2359-c",
	}
	for _, id := range ids {
		e := &Entity{ID: id, Kind: "task", Metadata: map[string]any{"title": id}}
		if err := store.WriteEntity(e); err != nil {
			t.Fatalf("WriteEntity(%s): %v", id, err)
		}
	}

	var got []string
	if err := store.List("task", func(id string) error {
		got = append(got, id)
		return nil
	}); err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"task-20250101-0900-a", "task-20250615-1430-b", "task-20251231-2359-c"}
	if len(got) != len(want) {
		t.Fatalf("List returned %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestStoreListMissingKind(t *testing.T) {
	store := newTestStore(t)
	err := store.List("meeting", func(string) error {
		t.Fatal("callback invoked for empty kind")
		return nil
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.md")
	if err := WriteFileAtomic(path, []byte("one\n"), 0o644); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two\n"), 0o644); err != nil {
		t.Fatalf("second write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "two\n" {
		t.Errorf("content = %q", data)
	}

	// No tmp litter left behind.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("dir has %d entries, want 1", len(entries))
	}
}

func TestLockManagerSerializesSameEntity(t *testing.T) {
	locks := NewLockManager(time.Second)
	release, err := locks.Acquire(context.Background(), "task-1", 0)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err = locks.Acquire(context.Background(), "task-1", 20*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("second Acquire err = %v, want ErrLockTimeout", err)
	}

	release()
	release2, err := locks.Acquire(context.Background(), "task-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire after release: %v", err)
	}
	release2()
}

func TestLockManagerIndependentEntities(t *testing.T) {
	locks := NewLockManager(time.Second)
	r1, err := locks.Acquire(context.Background(), "task-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	defer r1()
	r2, err := locks.Acquire(context.Background(), "task-2", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("independent entity blocked: %v", err)
	}
	r2()
}

func TestConcurrentWritesToDistinctEntities(t *testing.T) {
	store := newTestStore(t)
	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := NewID("task", "", time.Date(2025, 6, 15, 14, 30+n, 0, 0, time.UTC), time.UTC)
			release, err := store.Lock(context.Background(), id)
			if err != nil {
				errs <- err
				return
			}
			defer release()
			errs <- store.WriteEntity(&Entity{
				ID:   id,
				Kind: "task",
				Metadata: map[string]any{
					"title":  "parallel",
					"status": "todo",
				},
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent write: %v", err)
		}
	}

	count := 0
	if err := store.List("task", func(string) error {
		count++
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if count != 10 {
		t.Errorf("vault has %d tasks, want 10", count)
	}
}
