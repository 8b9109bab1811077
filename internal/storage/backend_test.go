package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codex-backend/internal/domain/addressing"
	"codex-backend/internal/domain/graph"
)

// runBackendContract exercises the behaviour every Backend must share.
func runBackendContract(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, b.Initialize(ctx))
	require.NoError(t, b.Initialize(ctx), "Initialize must be idempotent")

	doc := graph.Node{
		ID:     "Doc-1",
		TypeID: "doc",
		State:  graph.StateActive,
		Title:  "first",
		Content: &graph.ContentRef{
			MediaType:  "application/json",
			InlineJSON: `{"a":1}`,
			Headers:    map[string]string{"accept": "json"},
			CacheKey:   "abc",
		},
		Meta: map[string]any{"score": 1.5, "tags": []any{"x"}},
	}
	require.NoError(t, b.StoreNode(ctx, doc))

	doc.Title = "second"
	require.NoError(t, b.StoreNode(ctx, doc))
	require.NoError(t, b.StoreNode(ctx, graph.Node{ID: "doc-2", TypeID: "doc"}))

	require.NoError(t, b.StoreEdge(ctx, graph.Edge{FromID: "Doc-1", ToID: "doc-2", Role: "cites", Weight: 0.25}))
	require.NoError(t, b.StoreEdge(ctx, graph.Edge{FromID: "doc-1", ToID: "DOC-2", Role: "cites", Weight: 0.75}))
	require.NoError(t, b.StoreEdge(ctx, graph.Edge{FromID: "doc-2", ToID: "doc-1", Role: "cites", Weight: 1}))

	nodes, err := b.GetAllNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	got := findNode(t, nodes, "doc-1")
	assert.Equal(t, "second", got.Title)
	assert.Equal(t, graph.StateActive, got.State)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.Meta, got.Meta)

	edges, err := b.GetAllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 2, "same composite key must replace")
	for _, e := range edges {
		if e.Key() == graph.NewEdgeKey("doc-1", "doc-2", "cites") {
			assert.Equal(t, 0.75, e.Weight)
		}
	}

	stats, err := b.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.NodeCount)
	assert.Equal(t, int64(2), stats.EdgeCount)

	require.NoError(t, b.DeleteNode(ctx, "DOC-2"))
	require.NoError(t, b.DeleteEdge(ctx, "DOC-1", "Doc-2", "cites"))
	require.NoError(t, b.DeleteNode(ctx, "missing"), "deleting a missing node is not an error")
	require.NoError(t, b.DeleteEdge(ctx, "x", "y", "z"), "deleting a missing edge is not an error")

	nodes, err = b.GetAllNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	edges, err = b.GetAllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "doc-2", edges[0].FromID)

	assert.True(t, b.IsAvailable(ctx))
}

func findNode(t *testing.T, nodes []graph.Node, id string) graph.Node {
	t.Helper()
	for _, n := range nodes {
		if n.Key() == graph.FoldID(id) {
			return n
		}
	}
	t.Fatalf("node %s not found", id)
	return graph.Node{}
}

func TestMemoryBackend_Contract(t *testing.T) {
	runBackendContract(t, NewMemoryBackend())
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend()
	require.NoError(t, b.StoreNode(ctx, graph.Node{ID: "n", TypeID: "t", Meta: map[string]any{"k": "v"}}))

	nodes, err := b.GetAllNodes(ctx)
	require.NoError(t, err)
	nodes[0].Meta["k"] = "changed"

	nodes, err = b.GetAllNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, "v", nodes[0].Meta["k"])
}

func TestMemoryBackend_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewMemoryBackend()
	assert.ErrorIs(t, b.StoreNode(ctx, graph.Node{ID: "n"}), context.Canceled)
	assert.False(t, b.IsAvailable(ctx))
}

func TestBackends_MetaRoundTripKeepsHashes(t *testing.T) {
	backends := map[string]Backend{
		"memory":   NewMemoryBackend(),
		"sqlite":   openTestSQLite(t),
		"dynamodb": NewDynamoDBBackend(newFakeDynamoDB(true), DynamoDBConfig{TableName: "codex-test"}, nil),
	}

	meta := map[string]any{
		"seq":    int64(9007199254740993),
		"ratio":  0.5,
		"nested": map[string]any{"big": int64(-9007199254740995), "list": []any{int64(1) << 60, "x"}},
	}
	node := graph.Node{ID: "n1", TypeID: "doc", Meta: meta}
	edge := graph.Edge{FromID: "n1", ToID: "n2", Role: "cites", Weight: 1, Meta: meta}
	algorithm := string(addressing.SHA256)

	for name, b := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, b.Initialize(ctx))
			require.NoError(t, b.StoreNode(ctx, node))
			require.NoError(t, b.StoreEdge(ctx, edge))

			nodes, err := b.GetAllNodes(ctx)
			require.NoError(t, err)
			require.Len(t, nodes, 1)
			assert.Equal(t, int64(9007199254740993), nodes[0].Meta["seq"])
			assert.Equal(t, addressing.NodeStructureHash(node, algorithm), addressing.NodeStructureHash(nodes[0], algorithm))

			edges, err := b.GetAllEdges(ctx)
			require.NoError(t, err)
			require.Len(t, edges, 1)
			assert.Equal(t, addressing.EdgeHash(edge, algorithm), addressing.EdgeHash(edges[0], algorithm))
		})
	}
}
