package registry

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"codex-backend/internal/domain/graph"
)

const nodeShardCount = 32

type nodeShard struct {
	mu    sync.RWMutex
	nodes map[string]graph.Node
}

// nodeMirror is a sharded map of nodes keyed by folded id. Writers on
// different shards never contend.
type nodeMirror struct {
	shards [nodeShardCount]nodeShard
	count  atomic.Int64
}

func newNodeMirror() *nodeMirror {
	m := &nodeMirror{}
	for i := range m.shards {
		m.shards[i].nodes = make(map[string]graph.Node)
	}
	return m
}

func (m *nodeMirror) shard(key string) *nodeShard {
	return &m.shards[xxhash.Sum64String(key)%nodeShardCount]
}

// put stores a copy of n, replacing any node with the same folded id. commit,
// when non-nil, runs while the shard is still locked, so commits for one id
// happen in the order the mirror applied the writes.
func (m *nodeMirror) put(n graph.Node, commit func()) {
	key := n.Key()
	stored := n.Clone()

	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[key]; !exists {
		m.count.Add(1)
	}
	s.nodes[key] = stored
	if commit != nil {
		commit()
	}
}

func (m *nodeMirror) get(id string) (graph.Node, bool) {
	key := graph.FoldID(id)
	s := m.shard(key)

	s.mu.RLock()
	n, ok := s.nodes[key]
	s.mu.RUnlock()
	if !ok {
		return graph.Node{}, false
	}
	return n.Clone(), true
}

// remove deletes the node with the folded id. commit runs under the shard
// lock whether or not the node existed.
func (m *nodeMirror) remove(id string, commit func()) (graph.Node, bool) {
	key := graph.FoldID(id)
	s := m.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.nodes[key]
	if ok {
		delete(s.nodes, key)
		m.count.Add(-1)
	}
	if commit != nil {
		commit()
	}
	return n, ok
}

// filter returns copies of the nodes matching keep, ordered by folded id.
// A nil keep matches every node.
func (m *nodeMirror) filter(keep func(graph.Node) bool) []graph.Node {
	out := make([]graph.Node, 0)
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		for _, n := range s.nodes {
			if keep == nil || keep(n) {
				out = append(out, n.Clone())
			}
		}
		s.mu.RUnlock()
	}

	slices.SortFunc(out, func(a, b graph.Node) int {
		return strings.Compare(a.Key(), b.Key())
	})
	return out
}

func (m *nodeMirror) len() int {
	return int(m.count.Load())
}

// mirror is the complete in-memory view. Initialize and SyncWithStorage build
// a fresh mirror and swap it in whole.
type mirror struct {
	nodes *nodeMirror
	edges *edgeArena
}

func newMirror(nodes []graph.Node, edges []graph.Edge) *mirror {
	m := &mirror{
		nodes: newNodeMirror(),
		edges: newEdgeArena(len(edges)),
	}
	for _, n := range nodes {
		m.nodes.put(n, nil)
	}
	for _, e := range edges {
		m.edges.upsert(e, nil)
	}
	return m
}
