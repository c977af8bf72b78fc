package tools

import (
	"context"

	"github.com/haasonsaas/kira/internal/host"
)

// NoteCreate creates a note entity.
type NoteCreate struct {
	host *host.Host
}

// NewNoteCreate builds the note_create tool.
func NewNoteCreate(h *host.Host) *NoteCreate { return &NoteCreate{host: h} }

type noteCreateArgs struct {
	Title   string   `json:"title" jsonschema:"description=Note title"`
	Content string   `json:"content,omitempty" jsonschema:"description=Markdown body"`
	Tags    []string `json:"tags,omitempty" jsonschema:"description=Tags"`
	Links   []string `json:"links,omitempty" jsonschema:"description=Linked entity IDs"`
	Source  string   `json:"source,omitempty" jsonschema:"description=Where the note came from"`
}

func (t *NoteCreate) Name() string      { return "note_create" }
func (t *NoteCreate) Destructive() bool { return false }
func (t *NoteCreate) Description() string {
	return "Create a new note with an optional Markdown body, tags, and links."
}
func (t *NoteCreate) Parameters() map[string]any { return GenerateSchema(&noteCreateArgs{}) }

func (t *NoteCreate) Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error) {
	var a noteCreateArgs
	if err := DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	if dryRun {
		return map[string]any{"would_create": "note", "title": a.Title}, nil
	}

	meta := map[string]any{"title": a.Title}
	setIfNotEmpty(meta, "source", a.Source)
	if len(a.Tags) > 0 {
		meta["tags"] = toAnySlice(a.Tags)
	}
	if len(a.Links) > 0 {
		meta["links"] = toAnySlice(a.Links)
	}

	ent, err := t.host.CreateEntity(ctx, "note", meta, a.Content)
	if err != nil {
		return nil, err
	}
	return entityView(ent), nil
}

var _ Tool = (*NoteCreate)(nil)
