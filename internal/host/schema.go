package host

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/kira/internal/vault"
)

// baseSchema validates any kind that has no schema file of its own.
const baseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "created_ts", "updated_ts"],
  "properties": {
    "id": {"type": "string"},
    "title": {"type": "string", "minLength": 1},
    "created_ts": {"type": "string"},
    "updated_ts": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "links": {"type": "array", "items": {"type": "string"}}
  }
}`

// defaultSchemas are written into .kira/schemas/ on first startup so users
// can inspect and extend them.
var defaultSchemas = map[string]string{
	"task": `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "status", "created_ts", "updated_ts"],
  "properties": {
    "id": {"type": "string"},
    "title": {"type": "string", "minLength": 1},
    "status": {"enum": ["todo", "doing", "review", "done", "blocked"]},
    "assignee": {"type": "string"},
    "project": {"type": "string"},
    "estimate": {"type": ["string", "number"]},
    "estimate_final": {"type": ["string", "number"]},
    "start_ts": {"type": "string"},
    "due_ts": {"type": "string"},
    "done_ts": {"type": "string"},
    "blocked_reason": {"type": "string"},
    "reopen_reason": {"type": "string"},
    "created_ts": {"type": "string"},
    "updated_ts": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "links": {"type": "array", "items": {"type": "string"}}
  }
}`,
	"note": `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "created_ts", "updated_ts"],
  "properties": {
    "id": {"type": "string"},
    "title": {"type": "string", "minLength": 1},
    "source": {"type": "string"},
    "created_ts": {"type": "string"},
    "updated_ts": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "links": {"type": "array", "items": {"type": "string"}}
  }
}`,
}

// SchemaRegistry loads and caches per-kind JSON schemas from
// <vault>/.kira/schemas/<kind>.json.
type SchemaRegistry struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
	base  *jsonschema.Schema
}

// NewSchemaRegistry opens the schema directory, seeding the default task
// and note schemas when they are absent.
func NewSchemaRegistry(dir string) (*SchemaRegistry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("host: create schema dir: %w", err)
	}
	for kind, body := range defaultSchemas {
		path := filepath.Join(dir, kind+".json")
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := vault.WriteFileAtomic(path, []byte(body), 0o644); err != nil {
			return nil, fmt.Errorf("host: seed %s schema: %w", kind, err)
		}
	}

	base, err := jsonschema.CompileString("base.json", baseSchema)
	if err != nil {
		return nil, fmt.Errorf("host: compile base schema: %w", err)
	}
	return &SchemaRegistry{
		dir:   dir,
		cache: make(map[string]*jsonschema.Schema),
		base:  base,
	}, nil
}

// Validate checks metadata against the kind's schema. Kinds without a
// schema file fall back to the base schema. Violations wrap ErrValidation.
func (r *SchemaRegistry) Validate(kind string, meta map[string]any) error {
	schema, err := r.schemaFor(kind)
	if err != nil {
		return err
	}

	// The validator expects json.Unmarshal shapes, so round-trip the
	// metadata to normalize ints and typed slices.
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: metadata not serializable: %v", ErrValidation, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: kind %s: %v", ErrValidation, kind, compactSchemaError(err))
	}
	return nil
}

// Invalidate drops the compiled-schema cache. Called on config reload.
func (r *SchemaRegistry) Invalidate() {
	r.mu.Lock()
	r.cache = make(map[string]*jsonschema.Schema)
	r.mu.Unlock()
}

func (r *SchemaRegistry) schemaFor(kind string) (*jsonschema.Schema, error) {
	r.mu.RLock()
	schema, ok := r.cache[kind]
	r.mu.RUnlock()
	if ok {
		return schema, nil
	}

	path := filepath.Join(r.dir, kind+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r.base, nil
		}
		return nil, fmt.Errorf("host: read %s schema: %w", kind, err)
	}

	schema, err = jsonschema.CompileString(kind+".json", string(data))
	if err != nil {
		return nil, fmt.Errorf("host: compile %s schema: %w", kind, err)
	}

	r.mu.Lock()
	r.cache[kind] = schema
	r.mu.Unlock()
	return schema, nil
}

// compactSchemaError flattens the validator's multi-line output to one line
// for log and error hygiene.
func compactSchemaError(err error) string {
	var ve *jsonschema.ValidationError
	if ok := asValidationError(err, &ve); ok {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
		if loc == "" {
			return leaf.Message
		}
		return fmt.Sprintf("%s: %s", loc, leaf.Message)
	}
	return err.Error()
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
