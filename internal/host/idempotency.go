package host

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/haasonsaas/kira/internal/vault"
)

// keyStore maps upsert idempotency keys to the entity IDs they produced,
// persisted at .kira/idempotency.json. A repeated key short-circuits the
// upsert without rewriting.
type keyStore struct {
	mu   sync.RWMutex
	path string
	keys map[string]string
}

func loadKeyStore(path string) (*keyStore, error) {
	s := &keyStore{path: path, keys: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("host: read idempotency keys: %w", err)
	}
	if err := json.Unmarshal(data, &s.keys); err != nil {
		return nil, fmt.Errorf("host: parse idempotency keys: %w", err)
	}
	return s, nil
}

func (s *keyStore) get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[key]
	return id, ok
}

func (s *keyStore) put(key, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = id
	data, err := json.MarshalIndent(s.keys, "", "  ")
	if err != nil {
		return err
	}
	return vault.WriteFileAtomic(s.path, append(data, '\n'), 0o644)
}
