package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/kira/internal/bus"
	"github.com/haasonsaas/kira/internal/host"
	"github.com/haasonsaas/kira/internal/observability"
	"github.com/haasonsaas/kira/internal/vault"
)

// InboxNormalize promotes inbox captures into typed entities. Each
// processed capture becomes a note or task, the original is deleted, and
// an inbox.normalized event records the mapping.
type InboxNormalize struct {
	host      *host.Host
	publisher host.Publisher
	now       func() time.Time
}

// NewInboxNormalize builds the inbox_normalize tool. publisher may be nil.
func NewInboxNormalize(h *host.Host, publisher host.Publisher, now func() time.Time) *InboxNormalize {
	if now == nil {
		now = time.Now
	}
	return &InboxNormalize{host: h, publisher: publisher, now: now}
}

type inboxNormalizeArgs struct {
	ID   string `json:"id,omitempty" jsonschema:"description=Normalize only this inbox entity; all inbox entities when omitted"`
	Kind string `json:"kind,omitempty" jsonschema:"enum=note,enum=task,description=Target kind; overrides per-entity hints"`
}

func (t *InboxNormalize) Name() string      { return "inbox_normalize" }
func (t *InboxNormalize) Destructive() bool { return false }
func (t *InboxNormalize) Description() string {
	return "Promote inbox captures into notes or tasks and remove the processed captures."
}
func (t *InboxNormalize) Parameters() map[string]any { return GenerateSchema(&inboxNormalizeArgs{}) }

func (t *InboxNormalize) Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error) {
	var a inboxNormalizeArgs
	if err := DecodeArgs(args, &a); err != nil {
		return nil, err
	}

	var captures []*vault.Entity
	if a.ID != "" {
		ent, err := t.host.ReadEntity(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		if ent.Kind != "inbox" {
			return nil, fmt.Errorf("%s is a %s, not an inbox capture", ent.ID, ent.Kind)
		}
		captures = append(captures, ent)
	} else {
		var err error
		captures, err = t.host.CollectEntities(ctx, "inbox", nil)
		if err != nil {
			return nil, err
		}
	}

	if dryRun {
		plan := make([]map[string]any, 0, len(captures))
		for _, capture := range captures {
			plan = append(plan, map[string]any{
				"id":   capture.ID,
				"kind": t.targetKind(capture, a.Kind),
			})
		}
		return map[string]any{"would_normalize": plan, "count": len(plan)}, nil
	}

	normalized := make([]map[string]any, 0, len(captures))
	for _, capture := range captures {
		kind := t.targetKind(capture, a.Kind)
		meta := map[string]any{"title": capture.Title(), "source": "inbox:" + capture.ID}
		for _, key := range []string{"tags", "links", "due_ts", "project", "assignee"} {
			if v, ok := capture.Metadata[key]; ok {
				meta[key] = v
			}
		}

		promoted, err := t.host.CreateEntity(ctx, kind, meta, capture.Content)
		if err != nil {
			return nil, fmt.Errorf("promote %s: %w", capture.ID, err)
		}
		if err := t.host.DeleteEntity(ctx, capture.ID); err != nil {
			return nil, fmt.Errorf("remove capture %s: %w", capture.ID, err)
		}
		t.emit(ctx, capture.ID, promoted.ID, kind)
		normalized = append(normalized, map[string]any{
			"from": capture.ID,
			"to":   promoted.ID,
			"kind": kind,
		})
	}
	return map[string]any{"normalized": normalized, "count": len(normalized)}, nil
}

// targetKind resolves the promotion target: explicit argument first, then
// the capture's own promote_to hint, then note.
func (t *InboxNormalize) targetKind(capture *vault.Entity, override string) string {
	if override == "note" || override == "task" {
		return override
	}
	if hint, ok := capture.Metadata["promote_to"].(string); ok {
		if hint == "note" || hint == "task" {
			return hint
		}
	}
	return "note"
}

func (t *InboxNormalize) emit(ctx context.Context, from, to, kind string) {
	if t.publisher == nil {
		return
	}
	env := bus.New("tools", "inbox.normalized", from+"->"+to, map[string]any{
		"from": from,
		"to":   to,
		"kind": kind,
	}, t.now())
	env.TraceID = observability.TraceID(ctx)
	env.SessionID = observability.SessionID(ctx)
	_ = t.publisher.Publish(ctx, env)
}

var _ Tool = (*InboxNormalize)(nil)
