package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"codex-backend/internal/domain/graph"
)

// MemoryBackend keeps everything in process memory. It backs the "memory"
// provider and tests; nothing survives a restart.
type MemoryBackend struct {
	mu    sync.RWMutex
	nodes map[string]graph.Node
	edges map[graph.EdgeKey]graph.Edge
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		nodes: make(map[string]graph.Node),
		edges: make(map[graph.EdgeKey]graph.Edge),
	}
}

func (m *MemoryBackend) Initialize(ctx context.Context) error {
	return ctx.Err()
}

// GetAllNodes returns copies of every node ordered by folded id.
func (m *MemoryBackend) GetAllNodes(ctx context.Context) ([]graph.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := make([]graph.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, n.Clone())
	}
	slices.SortFunc(nodes, func(a, b graph.Node) int {
		return cmp.Compare(a.Key(), b.Key())
	})
	return nodes, nil
}

// GetAllEdges returns copies of every edge ordered by composite key.
func (m *MemoryBackend) GetAllEdges(ctx context.Context) ([]graph.Edge, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	edges := make([]graph.Edge, 0, len(m.edges))
	for _, e := range m.edges {
		edges = append(edges, e.Clone())
	}
	slices.SortFunc(edges, func(a, b graph.Edge) int {
		return cmp.Compare(a.Key().String(), b.Key().String())
	})
	return edges, nil
}

func (m *MemoryBackend) StoreNode(ctx context.Context, node graph.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.nodes[node.Key()] = node.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) StoreEdge(ctx context.Context, edge graph.Edge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.edges[edge.Key()] = edge.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) DeleteNode(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.nodes, graph.FoldID(id))
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) DeleteEdge(ctx context.Context, fromID, toID, role string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.edges, graph.NewEdgeKey(fromID, toID, role))
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) GetStats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Backend:   ProviderMemory,
		NodeCount: int64(len(m.nodes)),
		EdgeCount: int64(len(m.edges)),
	}, nil
}

func (m *MemoryBackend) IsAvailable(ctx context.Context) bool {
	return ctx.Err() == nil
}

func (m *MemoryBackend) Close() error { return nil }
