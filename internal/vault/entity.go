// Package vault implements the file-backed entity store: canonical
// Markdown+frontmatter serialization, atomic writes, per-entity locks, and
// stable entity IDs. It is the only package that touches entity files on
// disk; all mutations arrive through the host API.
package vault

import "path/filepath"

// Entity is one vault object: a task, note, event, project, and so on.
type Entity struct {
	// ID is the stable identifier, format <kind>-YYYYMMDD-HHmm-<slug>.
	ID string
	// Kind is the entity kind (task, note, event, meeting, project, ...).
	Kind string
	// Metadata is the frontmatter mapping. Always includes title,
	// created_ts, updated_ts, tags; tasks carry status.
	Metadata map[string]any
	// Content is the opaque Markdown body.
	Content string
	// Path is the file location relative to the vault root.
	Path string
}

// Title returns the title metadata field, or "".
func (e *Entity) Title() string {
	if s, ok := e.Metadata["title"].(string); ok {
		return s
	}
	return ""
}

// Status returns the status metadata field, or "".
func (e *Entity) Status() string {
	if s, ok := e.Metadata["status"].(string); ok {
		return s
	}
	return ""
}

// Clone returns a deep copy of the entity. Host API handlers hand out
// clones so callers cannot mutate cached state.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		ID:       e.ID,
		Kind:     e.Kind,
		Metadata: cloneMap(e.Metadata),
		Content:  e.Content,
		Path:     e.Path,
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// RelPath returns the canonical vault-relative path for an entity:
// <kind>s/<id>.md.
func RelPath(kind, id string) string {
	return filepath.Join(kind+"s", id+".md")
}
