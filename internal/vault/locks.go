package vault

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLockTimeout is returned when a per-entity lock cannot be acquired
// within the configured wait.
var ErrLockTimeout = errors.New("vault: lock acquisition timeout")

// LockManager hands out advisory exclusive locks scoped to one entity ID.
// Writers to the same entity are serialized; writers to different entities
// proceed in parallel. Waiters queue and are admitted in select order with
// a bounded timeout.
type LockManager struct {
	mu             sync.Mutex
	locks          map[string]chan struct{}
	defaultTimeout time.Duration
}

// NewLockManager creates a lock manager with the given default acquire
// timeout.
func NewLockManager(defaultTimeout time.Duration) *LockManager {
	if defaultTimeout <= 0 {
		defaultTimeout = 10 * time.Second
	}
	return &LockManager{
		locks:          make(map[string]chan struct{}),
		defaultTimeout: defaultTimeout,
	}
}

func (m *LockManager) sem(entityID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	sem, ok := m.locks[entityID]
	if !ok {
		sem = make(chan struct{}, 1)
		m.locks[entityID] = sem
	}
	return sem
}

// Acquire blocks until the entity lock is available, the timeout elapses,
// or ctx is cancelled. Pass timeout <= 0 for the manager default. The
// returned function releases the lock and is safe to call more than once.
func (m *LockManager) Acquire(ctx context.Context, entityID string, timeout time.Duration) (func(), error) {
	if timeout <= 0 {
		timeout = m.defaultTimeout
	}
	sem := m.sem(entityID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sem <- struct{}{}:
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() { <-sem })
	}
	return release, nil
}

// IsLocked reports whether the entity is currently locked. Used by doctor
// checks and tests.
func (m *LockManager) IsLocked(entityID string) bool {
	m.mu.Lock()
	sem, ok := m.locks[entityID]
	m.mu.Unlock()
	return ok && len(sem) > 0
}
