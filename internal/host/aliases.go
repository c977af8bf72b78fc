package host

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/haasonsaas/kira/internal/vault"
)

// AliasMap persists old→new entity ID mappings at .kira/aliases.json.
// Renames register an alias so stale references keep resolving.
type AliasMap struct {
	mu      sync.RWMutex
	path    string
	aliases map[string]string
}

// LoadAliases reads the alias map, tolerating a missing file.
func LoadAliases(path string) (*AliasMap, error) {
	m := &AliasMap{path: path, aliases: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("host: read aliases: %w", err)
	}
	if err := json.Unmarshal(data, &m.aliases); err != nil {
		return nil, fmt.Errorf("host: parse aliases: %w", err)
	}
	return m, nil
}

// Resolve follows alias chains to the current ID. Unaliased IDs map to
// themselves. Chains are bounded to guard against a corrupt cyclic map.
func (m *AliasMap) Resolve(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := 0; i < 16; i++ {
		next, ok := m.aliases[id]
		if !ok {
			return id
		}
		id = next
	}
	return id
}

// Has reports whether id has an alias entry.
func (m *AliasMap) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.aliases[id]
	return ok
}

// Add records old→new and persists the map atomically.
func (m *AliasMap) Add(old, new string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.aliases[old] = new
	// A rename back to a previously aliased ID would otherwise loop.
	if m.aliases[new] == old {
		delete(m.aliases, new)
	}

	data, err := json.MarshalIndent(m.aliases, "", "  ")
	if err != nil {
		return err
	}
	if err := vault.WriteFileAtomic(m.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("host: write aliases: %w", err)
	}
	return nil
}
