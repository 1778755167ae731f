// Package visibility computes and caches "who can see whom": a directed
// graph of permissions derived from claim content. Every identity mentioned
// in a claim gains an edge toward the issuer, and a requester's full visible
// set is the transitive traversal of those edges up to a configured depth.
//
// The cache is an explicit component with injected lifetime, never ambient
// global state. Entries are invalidated by a generation counter bumped on
// every ingestion: a cache hit never returns a visibility set older than the
// most recent edge-affecting event.
package visibility

import (
	"context"
	"sort"
	"sync"
)

// DefaultDepth bounds the transitive traversal of sees edges.
const DefaultDepth = 3

// EdgeStore persists directed sees edges. Implemented by *store.SQL.
type EdgeStore interface {
	AddSeesEdge(ctx context.Context, observer, observed string) error
	SeesEdgesFrom(ctx context.Context, observer string) ([]string, error)
}

// Cache maps a requester identity to the set of identities visible to it.
type Cache interface {
	// AddCanSee records that seer may see seen. Idempotent.
	AddCanSee(ctx context.Context, seen, seer string) error
	// Network returns every identity visible to id, the identity itself
	// included, sorted.
	Network(ctx context.Context, id string) ([]string, error)
	// Invalidate marks all cached networks stale. Called once per
	// successful ingestion.
	Invalidate(ctx context.Context)
}

// Memory is the in-process Cache implementation.
type Memory struct {
	edges EdgeStore
	depth int

	mu      sync.Mutex
	gen     uint64
	entries map[string]memoryEntry
}

type memoryEntry struct {
	gen     uint64
	network []string
}

// NewMemory builds an in-process cache over the given edge store. A depth
// of 0 selects DefaultDepth.
func NewMemory(edges EdgeStore, depth int) *Memory {
	if depth <= 0 {
		depth = DefaultDepth
	}
	return &Memory{
		edges:   edges,
		depth:   depth,
		entries: make(map[string]memoryEntry),
	}
}

// AddCanSee records that seer may see seen.
func (c *Memory) AddCanSee(ctx context.Context, seen, seer string) error {
	return c.edges.AddSeesEdge(ctx, seer, seen)
}

// Network returns the memoized visible set for id, recomputing it when the
// generation has moved since the entry was cached.
func (c *Memory) Network(ctx context.Context, id string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[id]; ok && entry.gen == c.gen {
		out := make([]string, len(entry.network))
		copy(out, entry.network)
		return out, nil
	}

	network, err := traverse(ctx, c.edges, id, c.depth)
	if err != nil {
		return nil, err
	}
	c.entries[id] = memoryEntry{gen: c.gen, network: network}

	out := make([]string, len(network))
	copy(out, network)
	return out, nil
}

// Invalidate bumps the generation; every cached entry goes stale at once.
func (c *Memory) Invalidate(context.Context) {
	c.mu.Lock()
	c.gen++
	c.mu.Unlock()
}

// traverse walks sees edges breadth-first from id, up to depth hops, and
// returns the sorted visible set including id itself.
func traverse(ctx context.Context, edges EdgeStore, id string, depth int) ([]string, error) {
	visited := map[string]bool{id: true}
	frontier := []string{id}
	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, node := range frontier {
			observed, err := edges.SeesEdgesFrom(ctx, node)
			if err != nil {
				return nil, err
			}
			for _, o := range observed {
				if !visited[o] {
					visited[o] = true
					next = append(next, o)
				}
			}
		}
		frontier = next
	}

	out := make([]string, 0, len(visited))
	for id := range visited {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Visible reports whether target is in requester's visible set.
func Visible(ctx context.Context, c Cache, requester, target string) (bool, error) {
	network, err := c.Network(ctx, requester)
	if err != nil {
		return false, err
	}
	for _, id := range network {
		if id == target {
			return true, nil
		}
	}
	return false, nil
}
