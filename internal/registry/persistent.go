package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"codex-backend/internal/config"
	"codex-backend/internal/domain/addressing"
	"codex-backend/internal/domain/graph"
	apperrors "codex-backend/internal/errors"
	"codex-backend/internal/infrastructure/observability"
	"codex-backend/internal/storage"
)

// PersistentRegistry keeps the full graph in memory and mirrors every mutation
// into a storage.Backend through a background durability pipeline.
//
// Reads never touch the backend. A mutation is visible to readers as soon as
// the call returns; its durable write may still be queued, may be retried,
// and may ultimately fail without affecting the mirror. SyncWithStorage
// rebuilds the mirror from the backend when the two are suspected to have
// diverged.
type PersistentRegistry struct {
	backend    storage.Backend
	durability *durabilityPipeline
	algorithm  string
	compaction config.Compaction
	collector  *observability.Collector
	logger     *zap.Logger

	state atomic.Int32

	// mirrorMu guards the mirror pointer. Readers and writers hold the shared
	// side for a single mirror access; swaps take the exclusive side.
	mirrorMu sync.RWMutex
	mirror   *mirror

	// writeGate holds mutations back while a resync flushes, reloads and
	// swaps, so no write can land in a mirror that is about to be replaced.
	writeGate sync.RWMutex

	// syncMu serializes Initialize and SyncWithStorage.
	syncMu    sync.Mutex
	initGroup singleflight.Group

	lastSynced    atomic.Pointer[time.Time]
	lastCompacted atomic.Pointer[time.Time]
}

var _ Registry = (*PersistentRegistry)(nil)

// NewPersistentRegistry creates an Uninitialized registry in front of backend.
// The durability workers start immediately; Close stops them.
func NewPersistentRegistry(backend storage.Backend, opts Options) *PersistentRegistry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("registry")

	r := &PersistentRegistry{
		backend:    backend,
		algorithm:  opts.algorithm(),
		compaction: opts.Compaction,
		collector:  opts.Collector,
		logger:     logger,
		mirror:     newMirror(nil, nil),
	}
	r.durability = newDurabilityPipeline(
		backend,
		opts.Durability,
		opts.StorageTimeout,
		opts.Publisher,
		opts.Collector,
		logger.Named("durability"),
	)
	return r
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// State returns the current lifecycle state.
func (r *PersistentRegistry) State() State {
	return State(r.state.Load())
}

// HashAlgorithm returns the resolved algorithm used for content addressing.
func (r *PersistentRegistry) HashAlgorithm() string {
	return r.algorithm
}

// Initialize loads the full graph from the backend and moves the registry to
// Ready. Concurrent callers share one initialization and all receive its
// result. Calling it again once Ready is a no-op. On failure the registry
// returns to Uninitialized and Initialize may be called again. A closed
// registry cannot be initialized.
func (r *PersistentRegistry) Initialize(ctx context.Context) error {
	if r.State() == StateReady {
		return nil
	}

	_, err, _ := r.initGroup.Do("initialize", func() (any, error) {
		return nil, r.initialize(ctx)
	})
	return err
}

func (r *PersistentRegistry) initialize(ctx context.Context) error {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	if r.State() == StateReady {
		return nil
	}
	if !r.state.CompareAndSwap(int32(StateUninitialized), int32(StateInitializing)) {
		return errRegistryClosed("initialize")
	}

	start := time.Now()
	if err := r.backend.Initialize(ctx); err != nil {
		r.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		r.collector.RecordRegistryOperation("initialize", err)
		return apperrors.FromStorageError("initialize", "backend", err)
	}

	m, err := r.load(ctx)
	if err != nil {
		r.state.CompareAndSwap(int32(StateInitializing), int32(StateUninitialized))
		r.collector.RecordRegistryOperation("initialize", err)
		return err
	}

	r.swap(m)
	if !r.state.CompareAndSwap(int32(StateInitializing), int32(StateReady)) {
		return errRegistryClosed("initialize")
	}
	r.collector.RecordRegistryOperation("initialize", nil)

	r.logger.Info("registry initialized",
		zap.Int("nodes", m.nodes.len()),
		zap.Int("edges", m.edges.stats().Live),
		zap.String("hash_algorithm", r.algorithm),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// load reads nodes and edges from the backend in parallel and builds a fresh
// mirror. The current mirror is untouched.
func (r *PersistentRegistry) load(ctx context.Context) (*mirror, error) {
	var (
		nodes []graph.Node
		edges []graph.Edge
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = r.backend.GetAllNodes(gctx)
		if err != nil {
			return apperrors.FromStorageError("get_all_nodes", "node", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		edges, err = r.backend.GetAllEdges(gctx)
		if err != nil {
			return apperrors.FromStorageError("get_all_edges", "edge", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return newMirror(nodes, edges), nil
}

func (r *PersistentRegistry) swap(m *mirror) {
	r.mirrorMu.Lock()
	r.mirror = m
	r.mirrorMu.Unlock()

	now := time.Now().UTC()
	r.lastSynced.Store(&now)
	r.reportSize(m)
}

func (r *PersistentRegistry) current() *mirror {
	r.mirrorMu.RLock()
	defer r.mirrorMu.RUnlock()
	return r.mirror
}

// withMirror runs fn against the current mirror while holding the shared side
// of mirrorMu, so a concurrent swap cannot strand the access in a discarded
// mirror.
func (r *PersistentRegistry) withMirror(fn func(m *mirror)) {
	r.mirrorMu.RLock()
	defer r.mirrorMu.RUnlock()
	fn(r.mirror)
}

func errRegistryClosed(operation string) error {
	return apperrors.NewNotReadyError(operation).WithCode("REGISTRY_CLOSED")
}

func (r *PersistentRegistry) requireReady(operation string) error {
	if r.State() != StateReady {
		return apperrors.NewNotReadyError(operation)
	}
	return nil
}

// SyncWithStorage flushes pending durable writes, discards the mirror and
// reloads it from the backend. Mutations wait while it runs; reads continue
// against the previous mirror until the swap.
func (r *PersistentRegistry) SyncWithStorage(ctx context.Context) error {
	if err := r.requireReady("sync_with_storage"); err != nil {
		return err
	}

	r.syncMu.Lock()
	defer r.syncMu.Unlock()
	r.writeGate.Lock()
	defer r.writeGate.Unlock()

	start := time.Now()
	if err := r.durability.flush(ctx); err != nil {
		r.collector.RecordRegistryOperation("sync_with_storage", err)
		return apperrors.FromStorageError("sync_with_storage", "durability", err)
	}

	m, err := r.load(ctx)
	if err != nil {
		r.collector.RecordRegistryOperation("sync_with_storage", err)
		return err
	}
	r.swap(m)
	r.collector.RecordRegistryOperation("sync_with_storage", nil)

	r.logger.Info("registry resynchronized with storage",
		zap.Int("nodes", m.nodes.len()),
		zap.Int("edges", m.edges.stats().Live),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Flush waits until every durable write accepted so far has finished.
func (r *PersistentRegistry) Flush(ctx context.Context) error {
	return r.durability.flush(ctx)
}

// Close drains the durability pipeline and moves the registry to Closed.
// Operations after Close fail as Not-Ready, Initialize included.
func (r *PersistentRegistry) Close(ctx context.Context) error {
	r.state.Store(int32(StateClosed))
	err := r.durability.close(ctx)
	if err != nil {
		r.logger.Warn("durability pipeline closed with pending writes", zap.Error(err))
	}
	return err
}

// ============================================================================
// MUTATIONS
// ============================================================================

// UpsertNode stores node in the mirror, replacing any node with the same
// case-insensitive id, and schedules its durable write.
func (r *PersistentRegistry) UpsertNode(ctx context.Context, node graph.Node) error {
	err := r.upsertNode(ctx, node)
	r.collector.RecordRegistryOperation("upsert_node", err)
	return err
}

func (r *PersistentRegistry) upsertNode(ctx context.Context, node graph.Node) error {
	if err := r.requireReady("upsert_node"); err != nil {
		return err
	}
	if strings.TrimSpace(node.ID) == "" {
		return apperrors.NewValidationError("node id is required")
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextError("upsert_node", err)
	}

	stored := node.Clone()

	r.writeGate.RLock()
	defer r.writeGate.RUnlock()

	r.withMirror(func(m *mirror) {
		m.nodes.put(stored, func() { r.durability.enqueue(storeNodeOp(stored)) })
		r.reportSize(m)
	})
	return nil
}

// UpsertNodeContent computes the content cache key of node.Content before
// storing the node, and returns the node as stored.
func (r *PersistentRegistry) UpsertNodeContent(ctx context.Context, node graph.Node) (graph.Node, error) {
	stored := node.Clone()
	if stored.Content != nil {
		ref := addressing.CreateContentAddressedRef(*stored.Content, r.algorithm)
		stored.Content = &ref
	}
	if err := r.UpsertNode(ctx, stored); err != nil {
		return graph.Node{}, err
	}
	return stored, nil
}

// UpsertEdge stores edge in the mirror, replacing any edge with the same
// (from, to, role) key, and schedules its durable write. Endpoints are not
// required to exist.
func (r *PersistentRegistry) UpsertEdge(ctx context.Context, edge graph.Edge) error {
	err := r.upsertEdge(ctx, edge)
	r.collector.RecordRegistryOperation("upsert_edge", err)
	return err
}

func (r *PersistentRegistry) upsertEdge(ctx context.Context, edge graph.Edge) error {
	if err := r.requireReady("upsert_edge"); err != nil {
		return err
	}
	if strings.TrimSpace(edge.FromID) == "" || strings.TrimSpace(edge.ToID) == "" {
		return apperrors.NewValidationError("edge endpoints are required")
	}
	if edge.Role == "" {
		return apperrors.NewValidationError("edge role is required")
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextError("upsert_edge", err)
	}

	stored := edge.Clone()

	r.writeGate.RLock()
	defer r.writeGate.RUnlock()

	r.withMirror(func(m *mirror) {
		m.edges.upsert(stored, func() { r.durability.enqueue(storeEdgeOp(stored)) })
		r.reportSize(m)
	})
	return nil
}

// DeleteNode removes the node and every edge incident to it from the mirror,
// then schedules durable deletes for all of them. Deleting an unknown id is
// not an error; the durable delete is still issued.
func (r *PersistentRegistry) DeleteNode(ctx context.Context, id string) error {
	err := r.deleteNode(ctx, id)
	r.collector.RecordRegistryOperation("delete_node", err)
	return err
}

func (r *PersistentRegistry) deleteNode(ctx context.Context, id string) error {
	if err := r.requireReady("delete_node"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextError("delete_node", err)
	}

	r.writeGate.RLock()
	defer r.writeGate.RUnlock()

	var removed []graph.Edge
	r.withMirror(func(m *mirror) {
		m.nodes.remove(id, func() { r.durability.enqueue(deleteNodeOp(id)) })
		removed = m.edges.removeTouching(id, func(edges []graph.Edge) {
			for _, e := range edges {
				r.durability.enqueue(deleteEdgeOp(e.FromID, e.ToID, e.Role))
			}
		})
		r.maybeCompact(m)
		r.reportSize(m)
	})

	if len(removed) > 0 {
		r.logger.Debug("removed incident edges with node",
			zap.String("node_id", id),
			zap.Int("edges", len(removed)),
		)
	}
	return nil
}

// DeleteEdge removes the edge with the given key from the mirror and schedules
// its durable delete. Deleting an unknown edge is not an error.
func (r *PersistentRegistry) DeleteEdge(ctx context.Context, fromID, toID, role string) error {
	err := r.deleteEdge(ctx, fromID, toID, role)
	r.collector.RecordRegistryOperation("delete_edge", err)
	return err
}

func (r *PersistentRegistry) deleteEdge(ctx context.Context, fromID, toID, role string) error {
	if err := r.requireReady("delete_edge"); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewContextError("delete_edge", err)
	}

	r.writeGate.RLock()
	defer r.writeGate.RUnlock()

	r.withMirror(func(m *mirror) {
		m.edges.remove(graph.NewEdgeKey(fromID, toID, role), func() {
			r.durability.enqueue(deleteEdgeOp(fromID, toID, role))
		})
		r.maybeCompact(m)
		r.reportSize(m)
	})
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

// TryGet returns the node with the given case-insensitive id.
func (r *PersistentRegistry) TryGet(id string) (graph.Node, bool, error) {
	if err := r.requireReady("try_get"); err != nil {
		return graph.Node{}, false, err
	}
	n, ok := r.current().nodes.get(id)
	return n, ok, nil
}

// AllNodes returns a snapshot of every node ordered by folded id.
func (r *PersistentRegistry) AllNodes() ([]graph.Node, error) {
	return r.filterNodes("all_nodes", nil)
}

// AllEdges returns a snapshot of every edge in insertion order.
func (r *PersistentRegistry) AllEdges() ([]graph.Edge, error) {
	if err := r.requireReady("all_edges"); err != nil {
		return nil, err
	}
	return r.current().edges.all(), nil
}

// GetNodesByType returns the nodes whose TypeID equals typeID exactly.
func (r *PersistentRegistry) GetNodesByType(typeID string) ([]graph.Node, error) {
	return r.filterNodes("get_nodes_by_type", func(n graph.Node) bool {
		return n.TypeID == typeID
	})
}

// GetNodesByTypePattern returns the nodes whose TypeID matches a glob pattern
// such as "doc.*" or "{doc,note}". Dots separate pattern segments.
func (r *PersistentRegistry) GetNodesByTypePattern(pattern string) ([]graph.Node, error) {
	if err := r.requireReady("get_nodes_by_type_pattern"); err != nil {
		return nil, err
	}
	g, err := glob.Compile(pattern, '.')
	if err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid type pattern %q: %v", pattern, err))
	}
	return r.filterNodes("get_nodes_by_type_pattern", func(n graph.Node) bool {
		return g.Match(n.TypeID)
	})
}

// GetNodesByContentKey returns the nodes whose content carries cacheKey. An
// empty key matches nothing.
func (r *PersistentRegistry) GetNodesByContentKey(cacheKey string) ([]graph.Node, error) {
	if cacheKey == "" {
		if err := r.requireReady("get_nodes_by_content_key"); err != nil {
			return nil, err
		}
		return []graph.Node{}, nil
	}
	return r.filterNodes("get_nodes_by_content_key", func(n graph.Node) bool {
		return n.Content != nil && n.Content.CacheKey == cacheKey
	})
}

func (r *PersistentRegistry) filterNodes(operation string, keep func(graph.Node) bool) ([]graph.Node, error) {
	if err := r.requireReady(operation); err != nil {
		return nil, err
	}
	return r.current().nodes.filter(keep), nil
}

// GetEdgesFrom returns the edges leaving id in insertion order.
func (r *PersistentRegistry) GetEdgesFrom(id string) ([]graph.Edge, error) {
	if err := r.requireReady("get_edges_from"); err != nil {
		return nil, err
	}
	return r.current().edges.outgoing(id), nil
}

// GetEdgesTo returns the edges arriving at id in insertion order.
func (r *PersistentRegistry) GetEdgesTo(id string) ([]graph.Edge, error) {
	if err := r.requireReady("get_edges_to"); err != nil {
		return nil, err
	}
	return r.current().edges.incoming(id), nil
}

// ============================================================================
// STORAGE AND MAINTENANCE
// ============================================================================

// StorageStats returns the backend's own counters.
func (r *PersistentRegistry) StorageStats(ctx context.Context) (storage.Stats, error) {
	if err := r.requireReady("storage_stats"); err != nil {
		return storage.Stats{}, err
	}
	stats, err := r.backend.GetStats(ctx)
	if err != nil {
		return storage.Stats{}, apperrors.FromStorageError("storage_stats", "backend", err)
	}
	return stats, nil
}

// IsStorageAvailable probes the backend. It works in every state so it can
// back a liveness check during startup.
func (r *PersistentRegistry) IsStorageAvailable(ctx context.Context) bool {
	return r.backend.IsAvailable(ctx)
}

// Compact reclaims tombstoned edge slots and returns how many were freed.
func (r *PersistentRegistry) Compact() (int, error) {
	if err := r.requireReady("compact"); err != nil {
		return 0, err
	}

	var reclaimed int
	r.withMirror(func(m *mirror) {
		reclaimed = m.edges.compact()
		r.reportSize(m)
	})
	if reclaimed > 0 {
		now := time.Now().UTC()
		r.lastCompacted.Store(&now)
		r.logger.Debug("edge arena compacted", zap.Int("reclaimed", reclaimed))
	}
	return reclaimed, nil
}

// maybeCompact compacts inline once tombstones pass the configured ratio.
func (r *PersistentRegistry) maybeCompact(m *mirror) {
	if !m.edges.needsCompaction(r.compaction.TombstoneRatio, r.compaction.MinTombstones) {
		return
	}
	if reclaimed := m.edges.compact(); reclaimed > 0 {
		now := time.Now().UTC()
		r.lastCompacted.Store(&now)
		r.logger.Debug("edge arena compacted inline", zap.Int("reclaimed", reclaimed))
	}
}

// Stats reports mirror and pipeline counters. It works in every state.
func (r *PersistentRegistry) Stats() Stats {
	m := r.current()
	return Stats{
		State:           r.State(),
		HashAlgorithm:   r.algorithm,
		Nodes:           m.nodes.len(),
		Edges:           m.edges.stats(),
		PendingDurable:  r.durability.Pending(),
		LastSyncedAt:    r.lastSynced.Load(),
		LastCompactedAt: r.lastCompacted.Load(),
	}
}

func (r *PersistentRegistry) reportSize(m *mirror) {
	if r.collector == nil {
		return
	}
	es := m.edges.stats()
	r.collector.SetMirrorSize(m.nodes.len(), es.Live, es.Tombstones)
}
