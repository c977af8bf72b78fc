package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/kira/internal/observability"
)

// MissedPolicy controls what happens when runs were missed (process asleep,
// long tick, slow job).
type MissedPolicy string

const (
	// Coalesce fires once to catch up, regardless of how many runs were
	// missed. The default.
	Coalesce MissedPolicy = "coalesce"
	// FireAll fires once per missed run.
	FireAll MissedPolicy = "fire_all"
)

// JobFunc is a scheduled job body. It must honor ctx cancellation; a job
// timeout or scheduler shutdown cancels the context.
type JobFunc func(ctx context.Context) error

// JobOption customizes one job registration.
type JobOption func(*job)

// WithMissedPolicy sets the job's missed-run policy.
func WithMissedPolicy(p MissedPolicy) JobOption {
	return func(j *job) { j.missed = p }
}

// WithTimeout sets a hard wall-clock timeout per run. Zero means unbounded
// (cancellation still applies).
func WithTimeout(d time.Duration) JobOption {
	return func(j *job) { j.timeout = d }
}

type job struct {
	id       string
	schedule Schedule
	fn       JobFunc
	missed   MissedPolicy
	timeout  time.Duration

	nextRun time.Time
	running bool
	done    bool
}

// Option customizes the scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(logger *observability.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics records run outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithNow injects a clock, used by tests together with Tick.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTickInterval overrides the polling interval. Default 500ms, which
// keeps interval drift under a second.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// Scheduler polls registered jobs and fires the due ones. Jobs run on their
// own goroutines; a slow job never blocks the tick loop, and a job never
// overlaps itself.
type Scheduler struct {
	mu      sync.Mutex
	jobs    map[string]*job
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
	tick    time.Duration

	started bool
	wg      sync.WaitGroup
}

// New creates a scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:   make(map[string]*job),
		logger: observability.Nop(),
		now:    time.Now,
		tick:   500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleInterval registers a job firing every seconds seconds.
func (s *Scheduler) ScheduleInterval(id string, seconds float64, fn JobFunc, opts ...JobOption) error {
	sched, err := Every(time.Duration(seconds * float64(time.Second)))
	if err != nil {
		return err
	}
	return s.register(id, sched, fn, opts...)
}

// ScheduleAt registers a one-shot job at an RFC 3339 instant.
func (s *Scheduler) ScheduleAt(id string, iso string, fn JobFunc, opts ...JobOption) error {
	sched, err := At(iso)
	if err != nil {
		return err
	}
	return s.register(id, sched, fn, opts...)
}

// ScheduleCron registers a job on a five-field cron expression evaluated
// in loc.
func (s *Scheduler) ScheduleCron(id string, expr string, loc *time.Location, fn JobFunc, opts ...JobOption) error {
	sched, err := Cron(expr, loc)
	if err != nil {
		return err
	}
	return s.register(id, sched, fn, opts...)
}

func (s *Scheduler) register(id string, sched Schedule, fn JobFunc, opts ...JobOption) error {
	if id == "" {
		return fmt.Errorf("scheduler: job id is required")
	}
	if fn == nil {
		return fmt.Errorf("scheduler: job %s has no handler", id)
	}

	next := &job{
		id:       id,
		schedule: sched,
		fn:       fn,
		missed:   Coalesce,
	}
	for _, opt := range opts {
		opt(next)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[id]; ok {
		if existing.schedule.Equal(sched) {
			// Idempotent re-registration.
			return nil
		}
		s.logger.Info(context.Background(), "job rescheduled", "job", id)
	}

	now := s.now()
	nextRun, ok := sched.Next(now)
	if !ok {
		return fmt.Errorf("scheduler: job %s has no future run", id)
	}
	next.nextRun = nextRun
	s.jobs[id] = next
	return nil
}

// Cancel removes a job. Unknown IDs are a no-op.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// Jobs returns the registered job IDs.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Run polls until ctx is cancelled, then waits for in-flight jobs.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every due job once per missed-run policy. Exposed so tests
// can drive the scheduler with a fake clock.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()

	s.mu.Lock()
	due := make([]*job, 0)
	fires := make(map[string]int)
	for _, j := range s.jobs {
		if j.running || j.done || now.Before(j.nextRun) {
			continue
		}

		count := 1
		if j.missed == FireAll {
			// Count schedule points in (nextRun, now].
			probe := j.nextRun
			for {
				next, ok := j.schedule.Next(probe)
				if !ok || next.After(now) {
					break
				}
				count++
				probe = next
			}
		}

		next, ok := j.schedule.Next(now)
		if !ok {
			j.done = true
		} else {
			j.nextRun = next
		}
		j.running = true
		due = append(due, j)
		fires[j.id] = count
	}
	s.mu.Unlock()

	for _, j := range due {
		j := j
		count := fires[j.id]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for i := 0; i < count; i++ {
				s.runOnce(ctx, j)
			}
			s.mu.Lock()
			j.running = false
			if j.done {
				delete(s.jobs, j.id)
			}
			s.mu.Unlock()
		}()
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j *job) {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if j.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, j.timeout)
	}
	defer cancel()

	start := s.now()
	err := s.safeRun(runCtx, j)
	elapsed := s.now().Sub(start)

	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Error(ctx, "scheduled job failed",
			"job", j.id, "error", err, "duration_ms", elapsed.Milliseconds())
	} else {
		s.logger.Debug(ctx, "scheduled job completed",
			"job", j.id, "duration_ms", elapsed.Milliseconds())
	}
	if s.metrics != nil {
		s.metrics.SchedulerRunCounter.WithLabelValues(j.id, status).Inc()
	}
}

func (s *Scheduler) safeRun(ctx context.Context, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()
	return j.fn(ctx)
}
