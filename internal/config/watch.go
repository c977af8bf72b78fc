package config

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Store holds the current Config behind an atomic pointer. Readers call
// Current(); hot reload builds a fresh Config and swaps it in one step.
type Store struct {
	path    string
	current atomic.Pointer[Config]
	onSwap  func(old, new *Config)
}

// NewStore loads the initial configuration from path (empty path means
// defaults + env only) and returns a Store serving it.
func NewStore(path string, onSwap func(old, new *Config)) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, onSwap: onSwap}
	s.current.Store(cfg)
	return s, nil
}

// Current returns the live configuration. The returned value must be
// treated as read-only.
func (s *Store) Current() *Config {
	return s.current.Load()
}

// Reload rebuilds the configuration from disk and swaps it in. A config
// that fails to load or validate leaves the current one in place.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	old := s.current.Swap(cfg)
	if s.onSwap != nil {
		s.onSwap(old, cfg)
	}
	return nil
}

// Watch reloads the configuration whenever the file changes, until ctx is
// cancelled. Write bursts from editors are debounced.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.path); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors rename over the watched file; re-add to keep watching.
			if ev.Op&fsnotify.Rename != 0 {
				_ = watcher.Add(s.path)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(250*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		case <-reload:
			// Best effort: a broken edit keeps the previous config.
			_ = s.Reload()
		}
	}
}
