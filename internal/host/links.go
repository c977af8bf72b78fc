package host

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// wikiLink matches [[target]] and [[target|display text]] in entity bodies.
var wikiLink = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|[^\[\]]*)?\]\]`)

// ExtractLinks collects outgoing link targets from an entity: the `links`
// frontmatter list plus [[wikilinks]] in the body. Targets are deduplicated
// and sorted.
func ExtractLinks(meta map[string]any, content string) []string {
	seen := make(map[string]struct{})

	if raw, ok := meta["links"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok {
				if s = strings.TrimSpace(s); s != "" {
					seen[s] = struct{}{}
				}
			}
		}
	}
	for _, m := range wikiLink.FindAllStringSubmatch(content, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			seen[s] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// LinkGraph is the in-memory forward/backlink index. Nodes are entity IDs;
// cycles are fine because edges are IDs, not pointers.
type LinkGraph struct {
	mu      sync.RWMutex
	forward map[string]map[string]struct{}
	back    map[string]map[string]struct{}
}

// NewLinkGraph creates an empty graph.
func NewLinkGraph() *LinkGraph {
	return &LinkGraph{
		forward: make(map[string]map[string]struct{}),
		back:    make(map[string]map[string]struct{}),
	}
}

// Set replaces the outgoing edges of id, keeping backlinks consistent.
func (g *LinkGraph) Set(id string, targets []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for old := range g.forward[id] {
		delete(g.back[old], id)
		if len(g.back[old]) == 0 {
			delete(g.back, old)
		}
	}

	next := make(map[string]struct{}, len(targets))
	for _, target := range targets {
		if target == "" || target == id {
			continue
		}
		next[target] = struct{}{}
		if g.back[target] == nil {
			g.back[target] = make(map[string]struct{})
		}
		g.back[target][id] = struct{}{}
	}
	if len(next) == 0 {
		delete(g.forward, id)
		return
	}
	g.forward[id] = next
}

// Remove drops the node's outgoing edges. Incoming edges stay: a deleted
// target is still referenced by its sources' files until those files are
// rewritten, and backlinks must mirror what is on disk.
func (g *LinkGraph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for target := range g.forward[id] {
		delete(g.back[target], id)
		if len(g.back[target]) == 0 {
			delete(g.back, target)
		}
	}
	delete(g.forward, id)
}

// Links returns the sorted outgoing edges of id.
func (g *LinkGraph) Links(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.forward[id])
}

// Backlinks returns the sorted IDs that link to id.
func (g *LinkGraph) Backlinks(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.back[id])
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
