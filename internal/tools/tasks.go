package tools

import (
	"context"
	"strings"

	"github.com/haasonsaas/kira/internal/host"
	"github.com/haasonsaas/kira/internal/vault"
)

// entityView is the JSON shape tools return for one entity.
func entityView(e *vault.Entity) map[string]any {
	return map[string]any{
		"id":       e.ID,
		"kind":     e.Kind,
		"metadata": e.Metadata,
		"content":  e.Content,
	}
}

// taskSummary is the compact shape list results use.
func taskSummary(e *vault.Entity) map[string]any {
	out := map[string]any{
		"id":     e.ID,
		"title":  e.Title(),
		"status": e.Status(),
	}
	for _, key := range []string{"assignee", "project", "due_ts", "done_ts"} {
		if v, ok := e.Metadata[key]; ok {
			out[key] = v
		}
	}
	return out
}

// TaskList lists tasks with optional filters.
type TaskList struct {
	host *host.Host
}

// NewTaskList builds the task_list tool.
func NewTaskList(h *host.Host) *TaskList { return &TaskList{host: h} }

type taskListArgs struct {
	Status   string `json:"status,omitempty" jsonschema:"enum=todo,enum=doing,enum=review,enum=done,enum=blocked,description=Filter by task status"`
	Project  string `json:"project,omitempty" jsonschema:"description=Filter by project name"`
	Assignee string `json:"assignee,omitempty" jsonschema:"description=Filter by assignee"`
	Tag      string `json:"tag,omitempty" jsonschema:"description=Filter by tag"`
	Query    string `json:"query,omitempty" jsonschema:"description=Case-insensitive substring match on the title"`
	Limit    int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=500,description=Maximum number of tasks to return"`
}

func (t *TaskList) Name() string      { return "task_list" }
func (t *TaskList) Destructive() bool { return false }
func (t *TaskList) Description() string {
	return "List tasks in the vault, optionally filtered by status, project, assignee, tag, or a title substring."
}
func (t *TaskList) Parameters() map[string]any { return GenerateSchema(&taskListArgs{}) }

func (t *TaskList) Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error) {
	var a taskListArgs
	if err := DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	limit := a.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []map[string]any
	err := t.host.ListEntities(ctx, "task", func(e *vault.Entity) bool {
		if a.Status != "" && e.Status() != a.Status {
			return false
		}
		if a.Project != "" && metaField(e, "project") != a.Project {
			return false
		}
		if a.Assignee != "" && metaField(e, "assignee") != a.Assignee {
			return false
		}
		if a.Tag != "" && !hasTag(e, a.Tag) {
			return false
		}
		if a.Query != "" && !strings.Contains(strings.ToLower(e.Title()), strings.ToLower(a.Query)) {
			return false
		}
		return true
	}, func(e *vault.Entity) error {
		if len(out) >= limit {
			return nil
		}
		out = append(out, taskSummary(e))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"tasks": out, "count": len(out)}, nil
}

// TaskGet reads one task by ID.
type TaskGet struct {
	host *host.Host
}

// NewTaskGet builds the task_get tool.
func NewTaskGet(h *host.Host) *TaskGet { return &TaskGet{host: h} }

type taskGetArgs struct {
	ID string `json:"id" jsonschema:"description=Task entity ID"`
}

func (t *TaskGet) Name() string      { return "task_get" }
func (t *TaskGet) Destructive() bool { return false }
func (t *TaskGet) Description() string {
	return "Read a single task by its entity ID, including metadata, body, and links."
}
func (t *TaskGet) Parameters() map[string]any { return GenerateSchema(&taskGetArgs{}) }

func (t *TaskGet) Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error) {
	var a taskGetArgs
	if err := DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	ent, err := t.host.ReadEntity(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	view := entityView(ent)
	view["links"] = t.host.Links(ent.ID)
	view["backlinks"] = t.host.Backlinks(ent.ID)
	return view, nil
}

// TaskCreate creates a task.
type TaskCreate struct {
	host *host.Host
}

// NewTaskCreate builds the task_create tool.
func NewTaskCreate(h *host.Host) *TaskCreate { return &TaskCreate{host: h} }

type taskCreateArgs struct {
	Title    string   `json:"title" jsonschema:"description=Task title"`
	Status   string   `json:"status,omitempty" jsonschema:"enum=todo,enum=doing,enum=review,enum=done,enum=blocked,description=Initial status (defaults to todo)"`
	Assignee string   `json:"assignee,omitempty" jsonschema:"description=Person responsible"`
	Project  string   `json:"project,omitempty" jsonschema:"description=Project the task belongs to"`
	DueTS    string   `json:"due_ts,omitempty" jsonschema:"description=Due timestamp in ISO-8601"`
	Estimate string   `json:"estimate,omitempty" jsonschema:"description=Effort estimate such as 2h or 1d"`
	Tags     []string `json:"tags,omitempty" jsonschema:"description=Tags"`
	Links    []string `json:"links,omitempty" jsonschema:"description=Linked entity IDs"`
	Content  string   `json:"content,omitempty" jsonschema:"description=Markdown body"`
}

func (t *TaskCreate) Name() string      { return "task_create" }
func (t *TaskCreate) Destructive() bool { return false }
func (t *TaskCreate) Description() string {
	return "Create a new task. The ID is assigned automatically from the title and current time."
}
func (t *TaskCreate) Parameters() map[string]any { return GenerateSchema(&taskCreateArgs{}) }

func (t *TaskCreate) Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error) {
	var a taskCreateArgs
	if err := DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	if dryRun {
		return map[string]any{"would_create": "task", "title": a.Title}, nil
	}

	meta := map[string]any{"title": a.Title}
	setIfNotEmpty(meta, "status", a.Status)
	setIfNotEmpty(meta, "assignee", a.Assignee)
	setIfNotEmpty(meta, "project", a.Project)
	setIfNotEmpty(meta, "due_ts", a.DueTS)
	setIfNotEmpty(meta, "estimate", a.Estimate)
	if len(a.Tags) > 0 {
		meta["tags"] = toAnySlice(a.Tags)
	}
	if len(a.Links) > 0 {
		meta["links"] = toAnySlice(a.Links)
	}

	ent, err := t.host.CreateEntity(ctx, "task", meta, a.Content)
	if err != nil {
		return nil, err
	}
	return entityView(ent), nil
}

// TaskUpdate patches a task, including FSM-guarded status changes.
type TaskUpdate struct {
	host *host.Host
}

// NewTaskUpdate builds the task_update tool.
func NewTaskUpdate(h *host.Host) *TaskUpdate { return &TaskUpdate{host: h} }

type taskUpdateArgs struct {
	ID            string   `json:"id" jsonschema:"description=Task entity ID"`
	Title         string   `json:"title,omitempty" jsonschema:"description=New title"`
	Status        string   `json:"status,omitempty" jsonschema:"enum=todo,enum=doing,enum=review,enum=done,enum=blocked,description=New status (FSM guards apply)"`
	Assignee      string   `json:"assignee,omitempty" jsonschema:"description=New assignee"`
	Project       string   `json:"project,omitempty" jsonschema:"description=New project"`
	DueTS         string   `json:"due_ts,omitempty" jsonschema:"description=New due timestamp"`
	StartTS       string   `json:"start_ts,omitempty" jsonschema:"description=Work start timestamp"`
	Estimate      string   `json:"estimate,omitempty" jsonschema:"description=New estimate"`
	BlockedReason string   `json:"blocked_reason,omitempty" jsonschema:"description=Reason when moving to blocked"`
	ReopenReason  string   `json:"reopen_reason,omitempty" jsonschema:"description=Reason when reopening a done task"`
	Tags          []string `json:"tags,omitempty" jsonschema:"description=Replacement tag list"`
	Content       *string  `json:"content,omitempty" jsonschema:"description=Replacement Markdown body"`
}

func (t *TaskUpdate) Name() string      { return "task_update" }
func (t *TaskUpdate) Destructive() bool { return false }
func (t *TaskUpdate) Description() string {
	return "Update fields of an existing task. Status changes go through the task state machine."
}
func (t *TaskUpdate) Parameters() map[string]any { return GenerateSchema(&taskUpdateArgs{}) }

func (t *TaskUpdate) Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error) {
	var a taskUpdateArgs
	if err := DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	if dryRun {
		return map[string]any{"would_update": a.ID}, nil
	}

	// Patch only the fields the caller actually sent.
	patch := host.Patch{Metadata: make(map[string]any), Content: a.Content}
	for key, value := range args {
		switch key {
		case "id", "content":
			continue
		}
		patch.Metadata[key] = value
	}

	ent, err := t.host.UpdateEntity(ctx, a.ID, patch)
	if err != nil {
		return nil, err
	}
	return entityView(ent), nil
}

// TaskDelete removes a task. Always gated by reflection.
type TaskDelete struct {
	host *host.Host
}

// NewTaskDelete builds the task_delete tool.
func NewTaskDelete(h *host.Host) *TaskDelete { return &TaskDelete{host: h} }

type taskDeleteArgs struct {
	ID string `json:"id" jsonschema:"description=Task entity ID to delete"`
}

func (t *TaskDelete) Name() string      { return "task_delete" }
func (t *TaskDelete) Destructive() bool { return true }
func (t *TaskDelete) Description() string {
	return "Permanently delete a task by its entity ID. Requires user confirmation."
}
func (t *TaskDelete) Parameters() map[string]any { return GenerateSchema(&taskDeleteArgs{}) }

func (t *TaskDelete) Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error) {
	var a taskDeleteArgs
	if err := DecodeArgs(args, &a); err != nil {
		return nil, err
	}
	if dryRun {
		return map[string]any{"would_delete": a.ID}, nil
	}
	if err := t.host.DeleteEntity(ctx, a.ID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": a.ID}, nil
}

func metaField(e *vault.Entity, key string) string {
	if s, ok := e.Metadata[key].(string); ok {
		return s
	}
	return ""
}

func hasTag(e *vault.Entity, tag string) bool {
	raw, ok := e.Metadata["tags"].([]any)
	if !ok {
		return false
	}
	for _, item := range raw {
		if s, ok := item.(string); ok && s == tag {
			return true
		}
	}
	return false
}

func setIfNotEmpty(meta map[string]any, key, value string) {
	if value != "" {
		meta[key] = value
	}
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

var (
	_ Tool = (*TaskList)(nil)
	_ Tool = (*TaskGet)(nil)
	_ Tool = (*TaskCreate)(nil)
	_ Tool = (*TaskUpdate)(nil)
	_ Tool = (*TaskDelete)(nil)
)
