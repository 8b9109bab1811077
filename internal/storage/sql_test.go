package storage

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codex-backend/internal/domain/graph"
)

func openTestSQLite(t *testing.T) *SQLBackend {
	t.Helper()
	backend, err := OpenSQLite(filepath.Join(t.TempDir(), "nested", "codex.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })
	return backend
}

func TestSQLiteBackend_Contract(t *testing.T) {
	runBackendContract(t, openTestSQLite(t))
}

func TestSQLiteBackend_NonFiniteWeightSurvives(t *testing.T) {
	ctx := context.Background()
	backend := openTestSQLite(t)
	require.NoError(t, backend.Initialize(ctx))

	require.NoError(t, backend.StoreEdge(ctx, graph.Edge{FromID: "a", ToID: "b", Role: "r", Weight: math.NaN()}))

	edges, err := backend.GetAllEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.True(t, math.IsNaN(edges[0].Weight))
}

func TestSQLiteBackend_StatsReportSize(t *testing.T) {
	ctx := context.Background()
	backend := openTestSQLite(t)
	require.NoError(t, backend.Initialize(ctx))

	stats, err := backend.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Backend)
	assert.Positive(t, stats.SizeBytes)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("  ", nil)
	assert.Error(t, err)
}

func newPostgresMock(t *testing.T) (*SQLBackend, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewSQLBackend(db, DialectPostgres, zap.NewNop()), mock
}

func TestPostgresBackend_InitializeCreatesSchema(t *testing.T) {
	backend, mock := newPostgresMock(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS codex_nodes`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_codex_nodes_type`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS codex_edges.*weight\s+DOUBLE PRECISION`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS idx_codex_edges_to`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, backend.Initialize(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_StoreNodeUsesNumberedPlaceholders(t *testing.T) {
	backend, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`)).
		WithArgs("doc-1", "Doc-1", "doc", "active", "", "Title", "", sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := backend.StoreNode(context.Background(), graph.Node{
		ID:      "Doc-1",
		TypeID:  "doc",
		State:   graph.StateActive,
		Title:   "Title",
		Content: &graph.ContentRef{InlineJSON: "x"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_DeleteEdgeFoldsEndpoints(t *testing.T) {
	backend, mock := newPostgresMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM codex_edges WHERE from_key = $1 AND to_key = $2 AND role = $3`)).
		WithArgs("a", "b", "Cites").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, backend.DeleteEdge(context.Background(), "A", "B", "Cites"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_GetAllNodesDecodesJSONColumns(t *testing.T) {
	backend, mock := newPostgresMock(t)

	rows := sqlmock.NewRows([]string{"id", "type_id", "state", "locale", "title", "description", "content", "meta"}).
		AddRow("N1", "doc", "active", "en", "t", "d", `{"inlineJson":"x","cacheKey":"k"}`, `{"rank":2}`).
		AddRow("N2", "doc", "", "", "", "", nil, nil)
	mock.ExpectQuery(`SELECT id, type_id, state`).WillReturnRows(rows)

	nodes, err := backend.GetAllNodes(context.Background())
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	assert.Equal(t, &graph.ContentRef{InlineJSON: "x", CacheKey: "k"}, nodes[0].Content)
	assert.Equal(t, map[string]any{"rank": int64(2)}, nodes[0].Meta)
	assert.Nil(t, nodes[1].Content)
	assert.Nil(t, nodes[1].Meta)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresBackend_StoreEdgeError(t *testing.T) {
	backend, mock := newPostgresMock(t)

	mock.ExpectExec(`INSERT INTO codex_edges`).WillReturnError(errors.New("connection refused"))

	err := backend.StoreEdge(context.Background(), graph.Edge{FromID: "a", ToID: "b", Role: "r"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a->b[r]")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPostgresBackend_GetStats(t *testing.T) {
	backend, mock := newPostgresMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM codex_nodes`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM codex_edges`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(`pg_total_relation_size`).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(16384))

	stats, err := backend.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Backend:   "postgres",
		NodeCount: 3,
		EdgeCount: 5,
		SizeBytes: 16384,
		Details:   stats.Details,
	}, stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRebind(t *testing.T) {
	pg := &SQLBackend{dialect: DialectPostgres}
	lite := &SQLBackend{dialect: DialectSQLite}

	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", lite.rebind("a = ? AND b = ?"))
}
