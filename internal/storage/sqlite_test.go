package storage

import (
	"path/filepath"
	"testing"
)

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestOpenCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data", "kira.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS things (id TEXT PRIMARY KEY, name TEXT)`,
		`CREATE INDEX IF NOT EXISTS idx_things_name ON things(name)`,
	}
	if err := Migrate(db, ddl); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := Migrate(db, ddl); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO things (id, name) VALUES ('a', 'b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}
