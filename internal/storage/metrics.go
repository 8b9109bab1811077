package storage

import (
	"context"
	"time"

	"codex-backend/internal/domain/graph"
	"codex-backend/internal/infrastructure/observability"
)

// WithMetrics wraps a backend so every call is counted and timed under the
// given backend label.
func WithMetrics(backend Backend, collector *observability.Collector, name string) Backend {
	if collector == nil {
		return backend
	}
	return &meteredBackend{inner: backend, collector: collector, name: name}
}

type meteredBackend struct {
	inner     Backend
	collector *observability.Collector
	name      string
}

func (b *meteredBackend) record(operation string, start time.Time, err error) {
	b.collector.RecordStorageOperation(b.name, operation, time.Since(start), err)
}

func (b *meteredBackend) Initialize(ctx context.Context) error {
	start := time.Now()
	err := b.inner.Initialize(ctx)
	b.record("initialize", start, err)
	return err
}

func (b *meteredBackend) GetAllNodes(ctx context.Context) ([]graph.Node, error) {
	start := time.Now()
	nodes, err := b.inner.GetAllNodes(ctx)
	b.record("get_all_nodes", start, err)
	return nodes, err
}

func (b *meteredBackend) GetAllEdges(ctx context.Context) ([]graph.Edge, error) {
	start := time.Now()
	edges, err := b.inner.GetAllEdges(ctx)
	b.record("get_all_edges", start, err)
	return edges, err
}

func (b *meteredBackend) StoreNode(ctx context.Context, node graph.Node) error {
	start := time.Now()
	err := b.inner.StoreNode(ctx, node)
	b.record("store_node", start, err)
	return err
}

func (b *meteredBackend) StoreEdge(ctx context.Context, edge graph.Edge) error {
	start := time.Now()
	err := b.inner.StoreEdge(ctx, edge)
	b.record("store_edge", start, err)
	return err
}

func (b *meteredBackend) DeleteNode(ctx context.Context, id string) error {
	start := time.Now()
	err := b.inner.DeleteNode(ctx, id)
	b.record("delete_node", start, err)
	return err
}

func (b *meteredBackend) DeleteEdge(ctx context.Context, fromID, toID, role string) error {
	start := time.Now()
	err := b.inner.DeleteEdge(ctx, fromID, toID, role)
	b.record("delete_edge", start, err)
	return err
}

func (b *meteredBackend) GetStats(ctx context.Context) (Stats, error) {
	start := time.Now()
	stats, err := b.inner.GetStats(ctx)
	b.record("get_stats", start, err)
	return stats, err
}

func (b *meteredBackend) IsAvailable(ctx context.Context) bool {
	return b.inner.IsAvailable(ctx)
}

func (b *meteredBackend) Close() error {
	return b.inner.Close()
}
