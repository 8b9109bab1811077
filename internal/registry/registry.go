// Package registry implements the cached graph registry: an in-memory mirror
// of nodes and edges that serves every read, backed by a storage.Backend that
// receives each mutation asynchronously.
//
// A registry moves through Uninitialized, Initializing and Ready, and ends in
// Closed. Every operation other than Initialize fails with an error wrapping
// errors.ErrNotReady outside Ready.
package registry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"codex-backend/internal/config"
	"codex-backend/internal/domain/addressing"
	"codex-backend/internal/domain/graph"
	"codex-backend/internal/infrastructure/observability"
	"codex-backend/internal/storage"
)

// State is the lifecycle state of a registry.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Registry stores and queries nodes and edges.
type Registry interface {
	Initialize(ctx context.Context) error
	State() State

	UpsertNode(ctx context.Context, node graph.Node) error
	UpsertNodeContent(ctx context.Context, node graph.Node) (graph.Node, error)
	UpsertEdge(ctx context.Context, edge graph.Edge) error
	DeleteNode(ctx context.Context, id string) error
	DeleteEdge(ctx context.Context, fromID, toID, role string) error

	TryGet(id string) (graph.Node, bool, error)
	AllNodes() ([]graph.Node, error)
	AllEdges() ([]graph.Edge, error)
	GetNodesByType(typeID string) ([]graph.Node, error)
	GetNodesByTypePattern(pattern string) ([]graph.Node, error)
	GetNodesByContentKey(cacheKey string) ([]graph.Node, error)
	GetEdgesFrom(id string) ([]graph.Edge, error)
	GetEdgesTo(id string) ([]graph.Edge, error)

	SyncWithStorage(ctx context.Context) error
	StorageStats(ctx context.Context) (storage.Stats, error)
	IsStorageAvailable(ctx context.Context) bool

	Stats() Stats
	Compact() (int, error)
	Flush(ctx context.Context) error
	Close(ctx context.Context) error
}

// Stats describes the in-memory mirror and the durability pipeline.
type Stats struct {
	State           State      `json:"state"`
	HashAlgorithm   string     `json:"hashAlgorithm"`
	Nodes           int        `json:"nodes"`
	Edges           ArenaStats `json:"edges"`
	PendingDurable  int64      `json:"pendingDurable"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	LastCompactedAt *time.Time `json:"lastCompactedAt,omitempty"`
}

// Options configures a PersistentRegistry. Zero values fall back to
// workable defaults.
type Options struct {
	HashAlgorithm  string
	Durability     config.Durability
	Compaction     config.Compaction
	StorageTimeout time.Duration
	Publisher      EventPublisher
	Collector      *observability.Collector
	Logger         *zap.Logger
}

// OptionsFromConfig maps the application configuration onto registry options.
func OptionsFromConfig(cfg *config.Config, publisher EventPublisher, collector *observability.Collector, logger *zap.Logger) Options {
	return Options{
		HashAlgorithm:  cfg.Registry.HashAlgorithm,
		Durability:     cfg.Registry.Durability,
		Compaction:     cfg.Registry.Compaction,
		StorageTimeout: cfg.Storage.Timeout,
		Publisher:      publisher,
		Collector:      collector,
		Logger:         logger,
	}
}

func (o Options) algorithm() string {
	return addressing.ParseAlgorithm(o.HashAlgorithm).String()
}
