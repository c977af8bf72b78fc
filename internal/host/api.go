package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/haasonsaas/kira/internal/bus"
	"github.com/haasonsaas/kira/internal/datetime"
	"github.com/haasonsaas/kira/internal/observability"
	"github.com/haasonsaas/kira/internal/vault"
)

var kindPattern = regexp.MustCompile(`^[a-z]+$`)

// Publisher is the slice of the event bus the host needs.
type Publisher interface {
	Publish(ctx context.Context, env bus.Envelope) error
}

// Patch is a partial entity update. A nil metadata value deletes the key;
// a nil Content leaves the body untouched.
type Patch struct {
	Metadata map[string]any
	Content  *string
}

// Option customizes the host.
type Option func(*Host)

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(h *Host) { h.logger = logger }
}

// WithMetrics records write outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Host) { h.metrics = m }
}

// WithPublisher wires event emission to the bus.
func WithPublisher(p Publisher) Option {
	return func(h *Host) { h.publisher = p }
}

// WithNow injects a clock, used by tests.
func WithNow(now func() time.Time) Option {
	return func(h *Host) { h.now = now }
}

// WithTimezone sets the location used for ID timestamps.
func WithTimezone(loc *time.Location) Option {
	return func(h *Host) {
		if loc != nil {
			h.loc = loc
		}
	}
}

// Host is the sole write path to the vault.
//
// Every mutation runs the same pipeline: schema validation, ID assignment,
// FSM guards for tasks, per-entity lock, journal append, atomic file write,
// link-graph update, event emission, journal mark. Reads resolve aliases
// first.
type Host struct {
	store     *vault.Store
	schemas   *SchemaRegistry
	links     *LinkGraph
	journal   *Journal
	aliases   *AliasMap
	idem      *keyStore
	publisher Publisher
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	loc       *time.Location
	eventSeq  atomic.Int64
}

// New opens the host over a vault store: seeds schemas, loads aliases and
// idempotency keys, rebuilds the link graph from disk, and replays any
// journal entries whose writes never completed.
func New(store *vault.Store, opts ...Option) (*Host, error) {
	h := &Host{
		store:  store,
		links:  NewLinkGraph(),
		logger: observability.Nop(),
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(h)
	}

	kiraDir := filepath.Join(store.Root(), ".kira")

	var err error
	if h.schemas, err = NewSchemaRegistry(filepath.Join(kiraDir, "schemas")); err != nil {
		return nil, err
	}
	if h.aliases, err = LoadAliases(filepath.Join(kiraDir, "aliases.json")); err != nil {
		return nil, err
	}
	if h.idem, err = loadKeyStore(filepath.Join(kiraDir, "idempotency.json")); err != nil {
		return nil, err
	}

	journal, unprocessed, err := OpenJournal(filepath.Join(kiraDir, "link_journal.jsonl"))
	if err != nil {
		return nil, err
	}
	h.journal = journal

	if err := h.rebuildLinks(); err != nil {
		return nil, err
	}
	h.replay(unprocessed)
	if err := h.journal.Compact(); err != nil {
		return nil, err
	}
	return h, nil
}

// Close releases the journal handle.
func (h *Host) Close() error {
	return h.journal.Close()
}

// Schemas exposes the schema registry, for cache invalidation on reload.
func (h *Host) Schemas() *SchemaRegistry { return h.schemas }

// CreateEntity validates, assigns an ID when absent, and writes a new
// entity. ID collisions within the same minute get a numeric suffix;
// an explicit ID that already exists fails with ErrDuplicateID.
func (h *Host) CreateEntity(ctx context.Context, kind string, data map[string]any, content string) (*vault.Entity, error) {
	if !kindPattern.MatchString(kind) {
		return nil, fmt.Errorf("%w: invalid kind %q", ErrValidation, kind)
	}

	meta := cloneMeta(data)
	now := h.now()
	stamp := datetime.FormatCanonical(now)
	if _, ok := meta["created_ts"]; !ok {
		meta["created_ts"] = stamp
	}
	meta["updated_ts"] = stamp
	if kind == "task" {
		if _, ok := meta["status"]; !ok {
			meta["status"] = StatusTodo
		}
	}

	id, err := h.assignID(kind, meta, now)
	if err != nil {
		return nil, err
	}
	meta["id"] = id

	if err := h.schemas.Validate(kind, meta); err != nil {
		return nil, err
	}

	ent := &vault.Entity{
		ID:       id,
		Kind:     kind,
		Metadata: meta,
		Content:  content,
		Path:     vault.RelPath(kind, id),
	}
	if err := h.commit(ctx, "create", ent, func() error {
		return h.store.WriteEntity(ent)
	}); err != nil {
		return nil, err
	}

	h.emit(ctx, "entity.created", ent.ID, kind, nil, ent)
	return ent.Clone(), nil
}

// UpdateEntity applies a partial patch, enforcing the task FSM when the
// patch changes status.
func (h *Host) UpdateEntity(ctx context.Context, id string, patch Patch) (*vault.Entity, error) {
	ent, err := h.ReadEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	before := ent.Clone()
	now := h.now()

	if err := applyPatch(ent, patch); err != nil {
		return nil, err
	}

	prevStatus, nextStatus := before.Status(), ent.Status()
	transitioned := ent.Kind == "task" && prevStatus != nextStatus
	if transitioned {
		if err := CheckTransition(prevStatus, nextStatus, ent.Metadata); err != nil {
			return nil, err
		}
		ApplyTransition(prevStatus, nextStatus, ent.Metadata, now)
	}

	ent.Metadata["updated_ts"] = datetime.FormatCanonical(now)
	if err := h.schemas.Validate(ent.Kind, ent.Metadata); err != nil {
		return nil, err
	}

	if err := h.commit(ctx, "update", ent, func() error {
		return h.store.WriteEntity(ent)
	}); err != nil {
		return nil, err
	}

	h.emit(ctx, "entity.updated", ent.ID, ent.Kind, before, ent)
	if transitioned {
		h.emit(ctx, "task.enter_"+nextStatus, ent.ID, ent.Kind, before, ent)
	}
	return ent.Clone(), nil
}

// UpsertEntity creates or updates. A repeated idempotency key returns the
// previously produced entity without rewriting.
func (h *Host) UpsertEntity(ctx context.Context, id string, data map[string]any, content string, idempotencyKey string) (*vault.Entity, bool, error) {
	if idempotencyKey != "" {
		if existing, ok := h.idem.get(idempotencyKey); ok {
			ent, err := h.ReadEntity(ctx, existing)
			if err != nil {
				return nil, false, err
			}
			return ent, false, nil
		}
	}

	var (
		ent     *vault.Entity
		created bool
		err     error
	)
	switch {
	case id != "" && h.exists(id):
		ent, err = h.UpdateEntity(ctx, id, Patch{Metadata: data, Content: &content})
	default:
		meta := cloneMeta(data)
		if id != "" {
			meta["id"] = id
		}
		kind := vault.KindOf(id)
		if kind == "" {
			kind, _ = meta["kind"].(string)
			delete(meta, "kind")
		}
		ent, err = h.CreateEntity(ctx, kind, meta, content)
		created = true
	}
	if err != nil {
		return nil, false, err
	}

	if idempotencyKey != "" {
		if err := h.idem.put(idempotencyKey, ent.ID); err != nil {
			return nil, false, err
		}
	}
	return ent, created, nil
}

// DeleteEntity removes an entity file and its outgoing links.
func (h *Host) DeleteEntity(ctx context.Context, id string) error {
	ent, err := h.ReadEntity(ctx, id)
	if err != nil {
		return err
	}

	if err := h.commitDelete(ctx, ent); err != nil {
		return err
	}
	h.emit(ctx, "entity.deleted", ent.ID, ent.Kind, ent, nil)
	return nil
}

// ReadEntity resolves aliases and reads one entity.
func (h *Host) ReadEntity(ctx context.Context, id string) (*vault.Entity, error) {
	resolved, err := h.resolveID(id)
	if err != nil {
		return nil, err
	}
	kind := vault.KindOf(resolved)
	if kind == "" {
		return nil, fmt.Errorf("%w: malformed id %q", ErrValidation, id)
	}
	ent, err := h.store.ReadEntity(kind, resolved)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return ent, nil
}

// ListEntities streams a kind's entities in ID order through fn, skipping
// those the filter rejects. A nil filter accepts everything.
func (h *Host) ListEntities(ctx context.Context, kind string, filter func(*vault.Entity) bool, fn func(*vault.Entity) error) error {
	return h.store.List(kind, func(id string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		ent, err := h.store.ReadEntity(kind, id)
		if err != nil {
			return err
		}
		if filter != nil && !filter(ent) {
			return nil
		}
		return fn(ent)
	})
}

// CollectEntities materializes ListEntities into a slice.
func (h *Host) CollectEntities(ctx context.Context, kind string, filter func(*vault.Entity) bool) ([]*vault.Entity, error) {
	var out []*vault.Entity
	err := h.ListEntities(ctx, kind, filter, func(ent *vault.Entity) error {
		out = append(out, ent)
		return nil
	})
	return out, err
}

// RenameEntity moves an entity to a new ID within its kind and registers
// an alias so stale references keep resolving.
func (h *Host) RenameEntity(ctx context.Context, oldID, newID string) (*vault.Entity, error) {
	ent, err := h.ReadEntity(ctx, oldID)
	if err != nil {
		return nil, err
	}
	if !vault.ValidID(newID) {
		return nil, fmt.Errorf("%w: malformed id %q", ErrValidation, newID)
	}
	if vault.KindOf(newID) != ent.Kind {
		return nil, fmt.Errorf("%w: rename cannot change kind", ErrValidation)
	}
	if h.store.Exists(ent.Kind, newID) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, newID)
	}

	before := ent.Clone()
	ent.ID = newID
	ent.Metadata["id"] = newID
	ent.Metadata["updated_ts"] = datetime.FormatCanonical(h.now())
	ent.Path = vault.RelPath(ent.Kind, newID)

	if err := h.commit(ctx, "rename", ent, func() error {
		if err := h.store.WriteEntity(ent); err != nil {
			return err
		}
		return h.store.Delete(before.Kind, before.ID)
	}); err != nil {
		return nil, err
	}
	h.links.Remove(before.ID)
	if err := h.aliases.Add(before.ID, newID); err != nil {
		return nil, err
	}

	h.emit(ctx, "entity.updated", newID, ent.Kind, before, ent)
	return ent.Clone(), nil
}

// Links returns the entity's outgoing link targets.
func (h *Host) Links(id string) []string { return h.links.Links(h.aliases.Resolve(id)) }

// Backlinks returns the IDs that link to the entity.
func (h *Host) Backlinks(id string) []string { return h.links.Backlinks(h.aliases.Resolve(id)) }

// commit runs the locked section of the write pipeline: journal append,
// write, link update, journal mark.
func (h *Host) commit(ctx context.Context, op string, ent *vault.Entity, write func() error) error {
	unlock, err := h.store.Lock(ctx, ent.ID)
	if err != nil {
		h.record(op, ent.Kind, "lock_timeout")
		return err
	}
	defer unlock()

	seq, err := h.journal.Append(op, ent.ID, datetime.FormatCanonical(h.now()))
	if err != nil {
		h.record(op, ent.Kind, "error")
		return err
	}
	if err := write(); err != nil {
		h.record(op, ent.Kind, "error")
		return err
	}
	h.links.Set(ent.ID, ExtractLinks(ent.Metadata, ent.Content))

	if err := h.journal.Mark(seq); err != nil {
		h.logger.Warn(ctx, "journal mark failed", "entity", ent.ID, "error", err)
	}
	h.record(op, ent.Kind, "ok")
	return nil
}

func (h *Host) commitDelete(ctx context.Context, ent *vault.Entity) error {
	unlock, err := h.store.Lock(ctx, ent.ID)
	if err != nil {
		h.record("delete", ent.Kind, "lock_timeout")
		return err
	}
	defer unlock()

	seq, err := h.journal.Append("delete", ent.ID, datetime.FormatCanonical(h.now()))
	if err != nil {
		return err
	}
	if err := h.store.Delete(ent.Kind, ent.ID); err != nil {
		h.record("delete", ent.Kind, "error")
		return err
	}
	h.links.Remove(ent.ID)

	if err := h.journal.Mark(seq); err != nil {
		h.logger.Warn(ctx, "journal mark failed", "entity", ent.ID, "error", err)
	}
	h.record("delete", ent.Kind, "ok")
	return nil
}

func (h *Host) assignID(kind string, meta map[string]any, now time.Time) (string, error) {
	if explicit, ok := meta["id"].(string); ok && explicit != "" {
		if !vault.ValidID(explicit) || vault.KindOf(explicit) != kind {
			return "", fmt.Errorf("%w: malformed id %q for kind %s", ErrValidation, explicit, kind)
		}
		if h.store.Exists(kind, explicit) {
			return "", fmt.Errorf("%w: %s", ErrDuplicateID, explicit)
		}
		return explicit, nil
	}

	title, _ := meta["title"].(string)
	base := vault.NewID(kind, title, now, h.loc)
	if !h.store.Exists(kind, base) {
		return base, nil
	}
	for n := 2; n < 100; n++ {
		candidate := vault.WithSuffix(base, n)
		if !h.store.Exists(kind, candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrDuplicateID, base)
}

func (h *Host) resolveID(id string) (string, error) {
	if !h.aliases.Has(id) {
		return id, nil
	}
	// An alias is ambiguous when a live entity has since taken the old ID.
	if kind := vault.KindOf(id); kind != "" && h.store.Exists(kind, id) {
		return "", fmt.Errorf("%w: %s", ErrConflict, id)
	}
	return h.aliases.Resolve(id), nil
}

func (h *Host) exists(id string) bool {
	resolved, err := h.resolveID(id)
	if err != nil {
		return false
	}
	kind := vault.KindOf(resolved)
	return kind != "" && h.store.Exists(kind, resolved)
}

func (h *Host) rebuildLinks() error {
	kinds, err := h.store.Kinds()
	if err != nil {
		return err
	}
	for _, kind := range kinds {
		err := h.store.List(kind, func(id string) error {
			ent, err := h.store.ReadEntity(kind, id)
			if err != nil {
				h.logger.Warn(context.Background(), "skipping unreadable entity",
					"kind", kind, "id", id, "error", err)
				return nil
			}
			h.links.Set(id, ExtractLinks(ent.Metadata, ent.Content))
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// replay reconciles the link graph with the filesystem for entries whose
// write may not have completed before a crash.
func (h *Host) replay(entries []JournalEntry) {
	for _, entry := range entries {
		kind := vault.KindOf(entry.EntityID)
		if kind == "" {
			continue
		}
		ent, err := h.store.ReadEntity(kind, entry.EntityID)
		if err != nil {
			h.links.Remove(entry.EntityID)
			continue
		}
		h.links.Set(entry.EntityID, ExtractLinks(ent.Metadata, ent.Content))
	}
	if len(entries) > 0 {
		h.logger.Info(context.Background(), "replayed link journal", "entries", len(entries))
	}
}

func (h *Host) emit(ctx context.Context, eventType, id, kind string, before, after *vault.Entity) {
	if h.publisher == nil {
		return
	}
	payload := map[string]any{
		"id":       id,
		"kind":     kind,
		"before":   entityPayload(before),
		"after":    entityPayload(after),
		"trace_id": observability.TraceID(ctx),
	}
	seq := h.eventSeq.Add(1)
	env := bus.New("host", eventType, fmt.Sprintf("%s#%d", id, seq), payload, h.now())
	env.Seq = int(seq)
	env.TraceID = observability.TraceID(ctx)
	env.SessionID = observability.SessionID(ctx)

	if err := h.publisher.Publish(ctx, env); err != nil {
		h.logger.Error(ctx, "event publish failed",
			"type", eventType, "entity", id, "error", err)
	}
}

func entityPayload(e *vault.Entity) map[string]any {
	if e == nil {
		return nil
	}
	return map[string]any{
		"id":       e.ID,
		"kind":     e.Kind,
		"metadata": e.Metadata,
		"content":  e.Content,
	}
}

func applyPatch(ent *vault.Entity, patch Patch) error {
	for key, value := range patch.Metadata {
		switch key {
		case "id", "created_ts":
			return fmt.Errorf("%w: field %s is immutable", ErrValidation, key)
		}
		if value == nil {
			delete(ent.Metadata, key)
			continue
		}
		ent.Metadata[key] = value
	}
	if patch.Content != nil {
		ent.Content = *patch.Content
	}
	return nil
}

func cloneMeta(data map[string]any) map[string]any {
	clone := (&vault.Entity{Metadata: data}).Clone().Metadata
	if clone == nil {
		clone = make(map[string]any)
	}
	return clone
}

func (h *Host) record(op, kind, status string) {
	if h.metrics != nil {
		h.metrics.RecordHostWrite(op, kind, status)
	}
}
