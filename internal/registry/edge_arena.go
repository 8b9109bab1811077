package registry

import (
	"slices"
	"sync"

	"codex-backend/internal/domain/graph"
)

// edgeSlot is one entry of the arena. A deleted slot keeps its position as a
// tombstone until the next compaction.
type edgeSlot struct {
	edge graph.Edge
	key  graph.EdgeKey
	live bool
}

// edgeArena stores edges in a slot table with a compound-key index and
// adjacency indexes keyed by folded node id. Slots are appended in insertion
// order; replacing an edge with the same key reuses its slot.
type edgeArena struct {
	mu         sync.RWMutex
	slots      []edgeSlot
	index      map[graph.EdgeKey]int
	from       map[string]map[int]struct{}
	to         map[string]map[int]struct{}
	live       int
	tombstones int
	generation uint64
}

// ArenaStats describes the occupancy of the edge arena.
type ArenaStats struct {
	Live       int    `json:"live"`
	Tombstones int    `json:"tombstones"`
	Slots      int    `json:"slots"`
	Generation uint64 `json:"generation"`
}

func newEdgeArena(capacity int) *edgeArena {
	return &edgeArena{
		slots: make([]edgeSlot, 0, capacity),
		index: make(map[graph.EdgeKey]int, capacity),
		from:  make(map[string]map[int]struct{}),
		to:    make(map[string]map[int]struct{}),
	}
}

// upsert stores a copy of e and reports whether it replaced an existing edge.
// commit, when non-nil, runs before the arena lock is released, so commits
// for the same key happen in the order the arena applied them.
func (a *edgeArena) upsert(e graph.Edge, commit func()) bool {
	key := e.Key()
	stored := e.Clone()

	a.mu.Lock()
	defer a.mu.Unlock()
	if commit != nil {
		defer commit()
	}

	if idx, ok := a.index[key]; ok {
		a.slots[idx].edge = stored
		return true
	}

	idx := len(a.slots)
	a.slots = append(a.slots, edgeSlot{edge: stored, key: key, live: true})
	a.index[key] = idx
	addAdjacent(a.from, key.From, idx)
	addAdjacent(a.to, key.To, idx)
	a.live++
	return false
}

// remove tombstones the edge stored under key. commit runs under the arena
// lock whether or not the edge existed.
func (a *edgeArena) remove(key graph.EdgeKey, commit func()) (graph.Edge, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if commit != nil {
		defer commit()
	}

	idx, ok := a.index[key]
	if !ok {
		return graph.Edge{}, false
	}
	return a.tombstone(idx), true
}

// removeTouching tombstones every edge incident to the node id and returns
// them in insertion order. A self-loop is removed once. commit receives the
// removed edges under the arena lock.
func (a *edgeArena) removeTouching(id string, commit func([]graph.Edge)) (removed []graph.Edge) {
	key := graph.FoldID(id)

	a.mu.Lock()
	defer a.mu.Unlock()
	if commit != nil {
		defer func() { commit(removed) }()
	}

	seen := make(map[int]struct{}, len(a.from[key])+len(a.to[key]))
	for idx := range a.from[key] {
		seen[idx] = struct{}{}
	}
	for idx := range a.to[key] {
		seen[idx] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}

	indexes := make([]int, 0, len(seen))
	for idx := range seen {
		indexes = append(indexes, idx)
	}
	slices.Sort(indexes)

	removed = make([]graph.Edge, 0, len(indexes))
	for _, idx := range indexes {
		removed = append(removed, a.tombstone(idx))
	}
	return removed
}

// tombstone must be called with a.mu held for writing.
func (a *edgeArena) tombstone(idx int) graph.Edge {
	slot := &a.slots[idx]
	removed := slot.edge

	delete(a.index, slot.key)
	removeAdjacent(a.from, slot.key.From, idx)
	removeAdjacent(a.to, slot.key.To, idx)

	slot.live = false
	slot.edge = graph.Edge{}
	a.live--
	a.tombstones++
	return removed
}

func (a *edgeArena) get(key graph.EdgeKey) (graph.Edge, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	idx, ok := a.index[key]
	if !ok {
		return graph.Edge{}, false
	}
	return a.slots[idx].edge.Clone(), true
}

func (a *edgeArena) all() []graph.Edge {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]graph.Edge, 0, a.live)
	for i := range a.slots {
		if a.slots[i].live {
			out = append(out, a.slots[i].edge.Clone())
		}
	}
	return out
}

func (a *edgeArena) outgoing(id string) []graph.Edge {
	return a.adjacent(a.from, id)
}

func (a *edgeArena) incoming(id string) []graph.Edge {
	return a.adjacent(a.to, id)
}

func (a *edgeArena) adjacent(idx map[string]map[int]struct{}, id string) []graph.Edge {
	a.mu.RLock()
	defer a.mu.RUnlock()

	set := idx[graph.FoldID(id)]
	if len(set) == 0 {
		return []graph.Edge{}
	}

	indexes := make([]int, 0, len(set))
	for i := range set {
		indexes = append(indexes, i)
	}
	slices.Sort(indexes)

	out := make([]graph.Edge, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, a.slots[i].edge.Clone())
	}
	return out
}

// compact drops tombstoned slots, rebuilds the indexes and returns the number
// of slots reclaimed. Surviving edges keep their relative order.
func (a *edgeArena) compact() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tombstones == 0 {
		return 0
	}

	reclaimed := a.tombstones
	slots := make([]edgeSlot, 0, a.live)
	a.index = make(map[graph.EdgeKey]int, a.live)
	a.from = make(map[string]map[int]struct{})
	a.to = make(map[string]map[int]struct{})

	for _, slot := range a.slots {
		if !slot.live {
			continue
		}
		idx := len(slots)
		slots = append(slots, slot)
		a.index[slot.key] = idx
		addAdjacent(a.from, slot.key.From, idx)
		addAdjacent(a.to, slot.key.To, idx)
	}

	a.slots = slots
	a.tombstones = 0
	a.generation++
	return reclaimed
}

// needsCompaction reports whether tombstones make up at least ratio of the
// slot table and number at least minTombstones. A zero ratio never triggers.
func (a *edgeArena) needsCompaction(ratio float64, minTombstones int) bool {
	if ratio <= 0 {
		return false
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.tombstones == 0 || a.tombstones < minTombstones {
		return false
	}
	return float64(a.tombstones)/float64(len(a.slots)) >= ratio
}

func (a *edgeArena) stats() ArenaStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return ArenaStats{
		Live:       a.live,
		Tombstones: a.tombstones,
		Slots:      len(a.slots),
		Generation: a.generation,
	}
}

func addAdjacent(idx map[string]map[int]struct{}, id string, slot int) {
	set, ok := idx[id]
	if !ok {
		set = make(map[int]struct{})
		idx[id] = set
	}
	set[slot] = struct{}{}
}

func removeAdjacent(idx map[string]map[int]struct{}, id string, slot int) {
	set, ok := idx[id]
	if !ok {
		return
	}
	delete(set, slot)
	if len(set) == 0 {
		delete(idx, id)
	}
}
