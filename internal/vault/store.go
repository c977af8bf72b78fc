package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Store performs all entity file I/O under one vault root.
type Store struct {
	root  string
	locks *LockManager
}

// NewStore opens (creating if needed) a vault rooted at root.
func NewStore(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("vault: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("vault: create root: %w", err)
	}
	return &Store{
		root:  abs,
		locks: NewLockManager(10 * time.Second),
	}, nil
}

// Root returns the absolute vault root directory.
func (s *Store) Root() string { return s.root }

// PathFor returns the absolute file path for an entity of the given kind.
func (s *Store) PathFor(kind, id string) string {
	return filepath.Join(s.root, RelPath(kind, id))
}

// Lock acquires the advisory exclusive lock for an entity.
func (s *Store) Lock(ctx context.Context, entityID string) (func(), error) {
	return s.locks.Acquire(ctx, entityID, 0)
}

// Read parses the entity file at the absolute path into frontmatter and
// body. Malformed files fail with ErrMalformed; missing files with
// fs.ErrNotExist.
func (s *Store) Read(path string) (map[string]any, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	return DecodeDocument(data)
}

// ReadEntity reads an entity by kind and ID.
func (s *Store) ReadEntity(kind, id string) (*Entity, error) {
	path := s.PathFor(kind, id)
	meta, content, err := s.Read(path)
	if err != nil {
		return nil, err
	}
	return &Entity{
		ID:       id,
		Kind:     kind,
		Metadata: meta,
		Content:  content,
		Path:     RelPath(kind, id),
	}, nil
}

// Write serializes and atomically writes an entity file.
func (s *Store) Write(path string, frontmatter map[string]any, content string) error {
	data, err := EncodeDocument(frontmatter, content)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o644)
}

// WriteEntity writes an entity at its canonical location.
func (s *Store) WriteEntity(e *Entity) error {
	return s.Write(s.PathFor(e.Kind, e.ID), e.Metadata, e.Content)
}

// Delete removes an entity file. Missing files fail with fs.ErrNotExist.
func (s *Store) Delete(kind, id string) error {
	return os.Remove(s.PathFor(kind, id))
}

// Exists reports whether the entity file is present.
func (s *Store) Exists(kind, id string) bool {
	_, err := os.Stat(s.PathFor(kind, id))
	return err == nil
}

// List walks the kind's directory in sorted order, calling fn with each
// entity ID. Returning an error from fn stops the walk. A kind with no
// directory yet lists nothing.
func (s *Store) List(kind string, fn func(id string) error) error {
	dir := filepath.Join(s.root, kind+"s")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".md"))
	}
	sort.Strings(names)
	for _, id := range names {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

// Kinds lists the kind directories currently present in the vault.
func (s *Store) Kinds() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var kinds []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, "s") {
			continue
		}
		kinds = append(kinds, strings.TrimSuffix(name, "s"))
	}
	sort.Strings(kinds)
	return kinds, nil
}
