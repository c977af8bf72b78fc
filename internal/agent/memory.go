package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/haasonsaas/kira/internal/datetime"
	"github.com/haasonsaas/kira/internal/llm"
	"github.com/haasonsaas/kira/internal/storage"
)

const (
	defaultMaxExchanges = 10
	defaultSessionTTL   = time.Hour
	defaultMaxSessions  = 1000
)

var memorySchema = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		session_id TEXT NOT NULL,
		turn_idx   INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		ts         TEXT NOT NULL,
		PRIMARY KEY (session_id, turn_idx)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_session_ts
		ON conversations(session_id, ts)`,
	`CREATE TABLE IF NOT EXISTS session_state (
		session_id            TEXT PRIMARY KEY,
		pending_confirmation  INTEGER NOT NULL DEFAULT 0,
		pending_plan_json     TEXT NOT NULL DEFAULT '[]',
		confirmation_question TEXT NOT NULL DEFAULT '',
		updated_at            TEXT NOT NULL
	)`,
}

// MemoryOption customizes session memory bounds.
type MemoryOption func(*SessionMemory)

// WithMaxExchanges caps stored exchanges (user+assistant pairs) per session.
func WithMaxExchanges(n int) MemoryOption {
	return func(m *SessionMemory) {
		if n > 0 {
			m.maxExchanges = n
		}
	}
}

// WithSessionTTL evicts sessions idle longer than ttl.
func WithSessionTTL(ttl time.Duration) MemoryOption {
	return func(m *SessionMemory) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithMaxSessions caps live sessions; the least recently used go first.
func WithMaxSessions(n int) MemoryOption {
	return func(m *SessionMemory) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// WithMemoryNow injects a clock, used by tests.
func WithMemoryNow(now func() time.Time) MemoryOption {
	return func(m *SessionMemory) { m.now = now }
}

// SessionMemory persists bounded conversation history and the pending
// confirmation trio in SQLite.
type SessionMemory struct {
	db           *sql.DB
	maxExchanges int
	ttl          time.Duration
	maxSessions  int
	now          func() time.Time
}

// NewSessionMemory migrates the conversation tables and returns the store.
func NewSessionMemory(db *sql.DB, opts ...MemoryOption) (*SessionMemory, error) {
	m := &SessionMemory{
		db:           db,
		maxExchanges: defaultMaxExchanges,
		ttl:          defaultSessionTTL,
		maxSessions:  defaultMaxSessions,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := storage.Migrate(db, memorySchema); err != nil {
		return nil, fmt.Errorf("agent: migrate session memory: %w", err)
	}
	return m, nil
}

// History returns the last turns of a session, oldest first.
func (m *SessionMemory) History(ctx context.Context, sessionID string, turns int) ([]llm.Message, error) {
	if turns <= 0 {
		turns = m.maxExchanges * 2
	}
	rows, err := m.db.QueryContext(ctx,
		`SELECT role, content FROM conversations
		 WHERE session_id = ? ORDER BY turn_idx DESC LIMIT ?`,
		sessionID, turns)
	if err != nil {
		return nil, fmt.Errorf("agent: load history: %w", err)
	}
	defer rows.Close()

	var reversed []llm.Message
	for rows.Next() {
		var msg llm.Message
		if err := rows.Scan(&msg.Role, &msg.Content); err != nil {
			return nil, fmt.Errorf("agent: scan history: %w", err)
		}
		reversed = append(reversed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent: load history: %w", err)
	}

	out := make([]llm.Message, len(reversed))
	for i, msg := range reversed {
		out[len(out)-1-i] = msg
	}
	return out, nil
}

// AppendTurn stores one conversation turn and trims the session to the
// exchange cap.
func (m *SessionMemory) AppendTurn(ctx context.Context, sessionID, role, content string) error {
	ts := datetime.FormatCanonical(m.now())

	var next int
	err := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_idx), -1) + 1 FROM conversations WHERE session_id = ?`,
		sessionID).Scan(&next)
	if err != nil {
		return fmt.Errorf("agent: next turn index: %w", err)
	}
	if _, err := m.db.ExecContext(ctx,
		`INSERT INTO conversations (session_id, turn_idx, role, content, ts)
		 VALUES (?, ?, ?, ?, ?)`,
		sessionID, next, role, content, ts); err != nil {
		return fmt.Errorf("agent: append turn: %w", err)
	}

	keep := m.maxExchanges * 2
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE session_id = ? AND turn_idx <= ?`,
		sessionID, next-keep); err != nil {
		return fmt.Errorf("agent: trim history: %w", err)
	}
	return nil
}

// PendingState loads the confirmation trio for a session. A missing row
// means nothing is pending.
func (m *SessionMemory) PendingState(ctx context.Context, sessionID string) (bool, []PlanStep, string, error) {
	var (
		pending  int
		planJSON string
		question string
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT pending_confirmation, pending_plan_json, confirmation_question
		 FROM session_state WHERE session_id = ?`,
		sessionID).Scan(&pending, &planJSON, &question)
	if err == sql.ErrNoRows {
		return false, nil, "", nil
	}
	if err != nil {
		return false, nil, "", fmt.Errorf("agent: load session state: %w", err)
	}

	var plan []PlanStep
	if planJSON != "" {
		if err := json.Unmarshal([]byte(planJSON), &plan); err != nil {
			return false, nil, "", fmt.Errorf("agent: decode pending plan: %w", err)
		}
	}
	return pending != 0 && len(plan) > 0, plan, question, nil
}

// SavePending upserts the confirmation trio. An empty plan is refused: a
// pending confirmation with nothing to confirm is a bug.
func (m *SessionMemory) SavePending(ctx context.Context, sessionID string, plan []PlanStep, question string) error {
	if len(plan) == 0 {
		return fmt.Errorf("agent: refusing to save pending confirmation with empty plan")
	}
	raw, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("agent: encode pending plan: %w", err)
	}
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO session_state
			(session_id, pending_confirmation, pending_plan_json, confirmation_question, updated_at)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			pending_confirmation = 1,
			pending_plan_json = excluded.pending_plan_json,
			confirmation_question = excluded.confirmation_question,
			updated_at = excluded.updated_at`,
		sessionID, string(raw), question, datetime.FormatCanonical(m.now()))
	if err != nil {
		return fmt.Errorf("agent: save session state: %w", err)
	}
	return nil
}

// ClearPending removes the session's confirmation trio.
func (m *SessionMemory) ClearPending(ctx context.Context, sessionID string) error {
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM session_state WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("agent: clear session state: %w", err)
	}
	return nil
}

// Sweep evicts idle sessions past the TTL and enforces the LRU session
// cap. Returns the number of evicted sessions.
func (m *SessionMemory) Sweep(ctx context.Context) (int, error) {
	cutoff := datetime.FormatCanonical(m.now().Add(-m.ttl))

	stale, err := m.collectSessions(ctx,
		`SELECT session_id FROM conversations
		 GROUP BY session_id HAVING MAX(ts) < ?`, cutoff)
	if err != nil {
		return 0, err
	}

	over, err := m.collectSessions(ctx,
		`SELECT session_id FROM conversations
		 GROUP BY session_id ORDER BY MAX(ts) DESC LIMIT -1 OFFSET ?`, m.maxSessions)
	if err != nil {
		return 0, err
	}

	evicted := 0
	seen := make(map[string]bool)
	for _, id := range append(stale, over...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if err := m.dropSession(ctx, id); err != nil {
			return evicted, err
		}
		evicted++
	}
	return evicted, nil
}

func (m *SessionMemory) collectSessions(ctx context.Context, query string, arg any) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("agent: sweep query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("agent: sweep scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (m *SessionMemory) dropSession(ctx context.Context, sessionID string) error {
	if _, err := m.db.ExecContext(ctx,
		`DELETE FROM conversations WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("agent: evict session: %w", err)
	}
	return m.ClearPending(ctx, sessionID)
}
