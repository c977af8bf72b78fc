// Package audit appends a JSON-lines trail of tool executions and vault
// mutations under <data_dir>/audit/<date>.jsonl. Writes are buffered and
// asynchronous so the hot path never blocks on disk.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haasonsaas/kira/internal/datetime"
	"github.com/haasonsaas/kira/internal/observability"
	"github.com/haasonsaas/kira/internal/tools"
)

const (
	defaultBufferSize    = 1024
	defaultFlushInterval = 2 * time.Second
	// maxArgBytes truncates oversized argument payloads in the trail.
	maxArgBytes = 4096
)

// Entry is one audit record.
type Entry struct {
	TS        string         `json:"ts"`
	Kind      string         `json:"kind"`
	TraceID   string         `json:"trace_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Status    string         `json:"status,omitempty"`
	Error     string         `json:"error,omitempty"`
	DryRun    bool           `json:"dry_run,omitempty"`
	Args      map[string]any `json:"args,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Option customizes the trail.
type Option func(*Trail)

// WithTrailLogger sets the structured logger for the trail's own failures.
func WithTrailLogger(logger *observability.Logger) Option {
	return func(t *Trail) { t.logger = logger }
}

// WithBufferSize sets the async queue depth. A full queue drops entries
// rather than blocking callers.
func WithBufferSize(n int) Option {
	return func(t *Trail) {
		if n > 0 {
			t.bufferSize = n
		}
	}
}

// WithFlushInterval sets how often buffered entries are synced.
func WithFlushInterval(d time.Duration) Option {
	return func(t *Trail) {
		if d > 0 {
			t.flushInterval = d
		}
	}
}

// WithTrailNow injects a clock, used by tests.
func WithTrailNow(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// Trail is the buffered audit writer. It implements tools.Auditor.
type Trail struct {
	dir           string
	logger        *observability.Logger
	now           func() time.Time
	bufferSize    int
	flushInterval time.Duration

	queue chan Entry
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	file     *os.File
	fileDate string
}

// NewTrail opens the audit directory and starts the writer goroutine.
func NewTrail(dir string, opts ...Option) (*Trail, error) {
	t := &Trail{
		dir:           dir,
		logger:        observability.Nop(),
		now:           time.Now,
		bufferSize:    defaultBufferSize,
		flushInterval: defaultFlushInterval,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audit: create dir: %w", err)
	}

	t.queue = make(chan Entry, t.bufferSize)
	t.wg.Add(1)
	go t.drain()
	return t, nil
}

// RecordTool records one tool execution. Implements tools.Auditor.
func (t *Trail) RecordTool(ctx context.Context, result *tools.Result, args map[string]any) {
	t.enqueue(Entry{
		TS:        datetime.FormatCanonical(t.now()),
		Kind:      "tool",
		TraceID:   observability.TraceID(ctx),
		SessionID: observability.SessionID(ctx),
		Tool:      result.Tool,
		Status:    result.Status,
		Error:     result.Error,
		DryRun:    result.DryRun,
		Args:      truncateArgs(args),
	})
}

// RecordEvent records a non-tool occurrence, such as a vault mutation or a
// scheduler run.
func (t *Trail) RecordEvent(ctx context.Context, kind string, detail map[string]any) {
	t.enqueue(Entry{
		TS:        datetime.FormatCanonical(t.now()),
		Kind:      kind,
		TraceID:   observability.TraceID(ctx),
		SessionID: observability.SessionID(ctx),
		Detail:    detail,
	})
}

func (t *Trail) enqueue(entry Entry) {
	select {
	case t.queue <- entry:
	default:
		// Dropping beats blocking a tool execution on disk.
		t.logger.Warn(context.Background(), "audit queue full, entry dropped", "kind", entry.Kind)
	}
}

// Close flushes buffered entries and stops the writer.
func (t *Trail) Close() error {
	close(t.done)
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		err := t.file.Close()
		t.file = nil
		return err
	}
	return nil
}

func (t *Trail) drain() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-t.queue:
			t.write(entry)
		case <-ticker.C:
			t.sync()
		case <-t.done:
			for {
				select {
				case entry := <-t.queue:
					t.write(entry)
				default:
					t.sync()
					return
				}
			}
		}
	}
}

func (t *Trail) write(entry Entry) {
	raw, err := json.Marshal(entry)
	if err != nil {
		t.logger.Error(context.Background(), "audit encode failed", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	file, err := t.fileFor(entry.TS)
	if err != nil {
		t.logger.Error(context.Background(), "audit open failed", "error", err)
		return
	}
	if _, err := file.Write(append(raw, '\n')); err != nil {
		t.logger.Error(context.Background(), "audit write failed", "error", err)
	}
}

// fileFor returns the daily file, rotating when the date changes. Callers
// hold t.mu.
func (t *Trail) fileFor(ts string) (*os.File, error) {
	date := ts
	if len(date) > 10 {
		date = date[:10]
	}
	if t.file != nil && t.fileDate == date {
		return t.file, nil
	}
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}

	path := filepath.Join(t.dir, date+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	t.file = file
	t.fileDate = date
	return file, nil
}

func (t *Trail) sync() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file != nil {
		_ = t.file.Sync()
	}
}

// truncateArgs bounds stored argument payloads so one oversized note body
// cannot bloat the trail.
func truncateArgs(args map[string]any) map[string]any {
	if len(args) == 0 {
		return nil
	}
	out := make(map[string]any, len(args))
	for key, value := range args {
		if s, ok := value.(string); ok && len(s) > maxArgBytes {
			out[key] = s[:maxArgBytes] + "…(truncated)"
			continue
		}
		out[key] = value
	}
	return out
}

var _ tools.Auditor = (*Trail)(nil)
