package agent

import (
	"context"
	"sync"
	"time"
)

const defaultLockWait = 10 * time.Second

// sessionLocks serializes graph runs per session. A later request for the
// same session queues behind the running one, up to a bounded wait.
type sessionLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

func newSessionLocks(wait time.Duration) *sessionLocks {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &sessionLocks{held: make(map[string]chan struct{}), wait: wait}
}

// acquire blocks until the session lock is free, the wait elapses, or ctx
// is done. It returns the release func on success.
func (l *sessionLocks) acquire(ctx context.Context, sessionID string) (func(), error) {
	l.mu.Lock()
	sem, ok := l.held[sessionID]
	if !ok {
		sem = make(chan struct{}, 1)
		l.held[sessionID] = sem
	}
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, ErrSessionBusy
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
