// Package scheduler runs interval, one-shot, and cron jobs with stable IDs,
// cooperative cancellation, and a missed-run policy per job.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ScheduleKind discriminates the schedule variants.
type ScheduleKind string

const (
	// KindAt fires once at a fixed instant.
	KindAt ScheduleKind = "at"
	// KindEvery fires on a fixed interval.
	KindEvery ScheduleKind = "every"
	// KindCron fires per a five-field cron expression.
	KindCron ScheduleKind = "cron"
)

// Schedule is a parsed job schedule.
type Schedule struct {
	Kind     ScheduleKind
	Every    time.Duration
	At       time.Time
	CronExpr string
	Location *time.Location
}

// Every builds an interval schedule.
func Every(d time.Duration) (Schedule, error) {
	if d <= 0 {
		return Schedule{}, fmt.Errorf("scheduler: interval must be positive, got %v", d)
	}
	return Schedule{Kind: KindEvery, Every: d}, nil
}

// At builds a one-shot schedule from an RFC 3339 instant.
func At(iso string) (Schedule, error) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(iso))
	if err != nil {
		return Schedule{}, fmt.Errorf("scheduler: invalid at time %q: %w", iso, err)
	}
	return Schedule{Kind: KindAt, At: at}, nil
}

// Cron builds a cron schedule. The expression is validated at registration
// time, evaluated in loc (nil means local time).
func Cron(expr string, loc *time.Location) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if _, err := cronParser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return Schedule{Kind: KindCron, CronExpr: expr, Location: loc}, nil
}

// Next returns the first fire time strictly after now, or ok=false when the
// schedule has no future firings.
func (s Schedule) Next(now time.Time) (time.Time, bool) {
	switch s.Kind {
	case KindAt:
		if now.Before(s.At) {
			return s.At, true
		}
		return time.Time{}, false
	case KindEvery:
		return now.Add(s.Every), true
	case KindCron:
		sched, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, false
		}
		loc := s.Location
		if loc == nil {
			loc = now.Location()
		}
		next := sched.Next(now.In(loc))
		return next, !next.IsZero()
	default:
		return time.Time{}, false
	}
}

// Equal reports whether two schedules describe the same firing pattern.
// Used to make re-registration idempotent.
func (s Schedule) Equal(other Schedule) bool {
	if s.Kind != other.Kind {
		return false
	}
	switch s.Kind {
	case KindAt:
		return s.At.Equal(other.At)
	case KindEvery:
		return s.Every == other.Every
	case KindCron:
		return s.CronExpr == other.CronExpr
	default:
		return false
	}
}
