// Package storage provides the durable side of the graph registry.
//
// A Backend is a full-scan, upsert-by-natural-key store for nodes and edges.
// The registry loads everything from it at startup and on resync, and mirrors
// every mutation into it asynchronously. Backends never see partial graphs
// as transactions: a node and its edges are stored independently.
package storage

import (
	"context"

	"codex-backend/internal/domain/graph"
)

// Provider names accepted by Open and the configuration.
const (
	ProviderMemory   = "memory"
	ProviderSQLite   = "sqlite"
	ProviderPostgres = "postgres"
	ProviderDynamoDB = "dynamodb"
)

// Backend is the durable store behind the registry.
//
// Nodes are keyed by graph.FoldID(node.ID); edges by graph.EdgeKey. Storing an
// entity whose key already exists replaces it. Deleting a missing entity is
// not an error.
type Backend interface {
	// Initialize prepares the store (schema, tables). It is idempotent.
	Initialize(ctx context.Context) error

	GetAllNodes(ctx context.Context) ([]graph.Node, error)
	GetAllEdges(ctx context.Context) ([]graph.Edge, error)

	StoreNode(ctx context.Context, node graph.Node) error
	StoreEdge(ctx context.Context, edge graph.Edge) error

	DeleteNode(ctx context.Context, id string) error
	DeleteEdge(ctx context.Context, fromID, toID, role string) error

	GetStats(ctx context.Context) (Stats, error)
	IsAvailable(ctx context.Context) bool

	Close() error
}

// Stats are implementation-defined counters reported by a backend.
type Stats struct {
	Backend   string         `json:"backend"`
	NodeCount int64          `json:"nodeCount"`
	EdgeCount int64          `json:"edgeCount"`
	SizeBytes int64          `json:"sizeBytes,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
