package host

import (
	"fmt"
	"time"

	"github.com/haasonsaas/kira/internal/datetime"
)

// Task statuses.
const (
	StatusTodo    = "todo"
	StatusDoing   = "doing"
	StatusReview  = "review"
	StatusDone    = "done"
	StatusBlocked = "blocked"
)

// allowed maps each status to the statuses a task may move to.
var allowed = map[string]map[string]bool{
	StatusTodo:    {StatusDoing: true, StatusBlocked: true},
	StatusDoing:   {StatusDone: true, StatusReview: true, StatusBlocked: true},
	StatusReview:  {StatusDone: true, StatusDoing: true, StatusBlocked: true},
	StatusDone:    {StatusDoing: true, StatusBlocked: true},
	StatusBlocked: {StatusTodo: true},
}

// ValidStatus reports whether s is a known task status.
func ValidStatus(s string) bool {
	_, ok := allowed[s]
	return ok
}

// CheckTransition enforces the task FSM guards against the post-patch
// metadata. The guards:
//
//	todo → doing       requires assignee or start_ts
//	doing → done       always allowed (side effects applied separately)
//	done → doing       requires non-empty reopen_reason
//	any → blocked      requires non-empty blocked_reason
//	blocked → todo     always allowed
//	doing ↔ review     review lane, no extra guard
func CheckTransition(from, to string, meta map[string]any) error {
	if from == to {
		return nil
	}
	if !ValidStatus(from) {
		return fmt.Errorf("%w: unknown status %q", ErrFSMGuard, from)
	}
	if !allowed[from][to] {
		return fmt.Errorf("%w: %s → %s", ErrFSMGuard, from, to)
	}

	switch {
	case to == StatusBlocked:
		if metaString(meta, "blocked_reason") == "" {
			return fmt.Errorf("%w: %s → blocked requires blocked_reason", ErrFSMGuard, from)
		}
	case from == StatusTodo && to == StatusDoing:
		if metaString(meta, "assignee") == "" && metaString(meta, "start_ts") == "" {
			return fmt.Errorf("%w: todo → doing requires assignee or start_ts", ErrFSMGuard)
		}
	case from == StatusDone && to == StatusDoing:
		if metaString(meta, "reopen_reason") == "" {
			return fmt.Errorf("%w: done → doing requires reopen_reason", ErrFSMGuard)
		}
	}
	return nil
}

// ApplyTransition records the side effects of an accepted transition.
// Entering done stamps done_ts and freezes the estimate; reopening clears
// done_ts; leaving blocked clears blocked_reason.
func ApplyTransition(from, to string, meta map[string]any, now time.Time) {
	if from == to {
		return
	}
	switch to {
	case StatusDone:
		meta["done_ts"] = datetime.FormatCanonical(now)
		if est, ok := meta["estimate"]; ok {
			if _, frozen := meta["estimate_final"]; !frozen {
				meta["estimate_final"] = est
			}
		}
	case StatusDoing:
		if from == StatusDone {
			delete(meta, "done_ts")
		}
	case StatusTodo:
		if from == StatusBlocked {
			delete(meta, "blocked_reason")
		}
	}
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}
