package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/kira/internal/datetime"
	"github.com/haasonsaas/kira/internal/host"
	"github.com/haasonsaas/kira/internal/vault"
)

// RollupDaily aggregates one local day's task activity into a note.
// Day boundaries follow the vault timezone, so DST-shifted days roll up
// 23 or 25 hours of timestamps.
type RollupDaily struct {
	host *host.Host
	loc  *time.Location
	now  func() time.Time
}

// NewRollupDaily builds the rollup_daily tool.
func NewRollupDaily(h *host.Host, loc *time.Location, now func() time.Time) *RollupDaily {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &RollupDaily{host: h, loc: loc, now: now}
}

type rollupDailyArgs struct {
	Date string `json:"date,omitempty" jsonschema:"description=Day to roll up as YYYY-MM-DD; defaults to today"`
}

func (t *RollupDaily) Name() string      { return "rollup_daily" }
func (t *RollupDaily) Destructive() bool { return false }
func (t *RollupDaily) Description() string {
	return "Summarize one day's completed and due tasks into a daily rollup note."
}
func (t *RollupDaily) Parameters() map[string]any { return GenerateSchema(&rollupDailyArgs{}) }

func (t *RollupDaily) Execute(ctx context.Context, args map[string]any, dryRun bool) (any, error) {
	var a rollupDailyArgs
	if err := DecodeArgs(args, &a); err != nil {
		return nil, err
	}

	day := t.now().In(t.loc)
	if a.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", a.Date, t.loc)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", a.Date)
		}
		day = parsed
	}
	start, end := datetime.DayBoundsForDate(day.Year(), day.Month(), day.Day(), t.loc)
	dateLabel := start.Format("2006-01-02")

	var done, due []*vault.Entity
	err := t.host.ListEntities(ctx, "task", nil, func(e *vault.Entity) error {
		if within(e, "done_ts", start, end) {
			done = append(done, e)
		} else if within(e, "due_ts", start, end) && e.Status() != host.StatusDone {
			due = append(due, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByID(done)
	sortByID(due)

	if dryRun {
		return map[string]any{
			"would_create": "note",
			"date":         dateLabel,
			"done":         len(done),
			"due":          len(due),
		}, nil
	}

	links := make([]string, 0, len(done)+len(due))
	var body strings.Builder
	body.WriteString("## Done\n\n")
	if len(done) == 0 {
		body.WriteString("Nothing completed.\n")
	}
	for _, e := range done {
		fmt.Fprintf(&body, "- [[%s]] %s\n", e.ID, e.Title())
		links = append(links, e.ID)
	}
	body.WriteString("\n## Due\n\n")
	if len(due) == 0 {
		body.WriteString("Nothing due.\n")
	}
	for _, e := range due {
		fmt.Fprintf(&body, "- [[%s]] %s (%s)\n", e.ID, e.Title(), e.Status())
		links = append(links, e.ID)
	}

	meta := map[string]any{
		"title":       "Daily rollup " + dateLabel,
		"rollup_date": dateLabel,
		"tags":        []any{"rollup"},
	}
	if len(links) > 0 {
		meta["links"] = toAnySlice(links)
	}

	ent, err := t.host.CreateEntity(ctx, "note", meta, body.String())
	if err != nil {
		return nil, err
	}
	view := entityView(ent)
	view["done_count"] = len(done)
	view["due_count"] = len(due)
	return view, nil
}

func within(e *vault.Entity, key string, start, end time.Time) bool {
	raw, ok := e.Metadata[key].(string)
	if !ok || raw == "" {
		return false
	}
	ts, err := datetime.ParseCanonical(raw)
	if err != nil {
		return false
	}
	return !ts.Before(start) && ts.Before(end)
}

func sortByID(entities []*vault.Entity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
}

var _ Tool = (*RollupDaily)(nil)
