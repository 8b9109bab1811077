package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"codex-backend/internal/config"
	"codex-backend/internal/domain/graph"
)

// Dialect selects the SQL flavour spoken by SQLBackend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	sqliteDriverName   = "sqlite"
	postgresDriverName = "postgres"
)

// SQLBackend stores nodes and edges in two relational tables, codex_nodes and
// codex_edges. Content and meta are JSON text columns. Keys are folded ids,
// the original ids are kept alongside.
type SQLBackend struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
}

// NewSQLBackend wraps an open database. Close closes db.
func NewSQLBackend(db *sql.DB, dialect Dialect, logger *zap.Logger) *SQLBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLBackend{
		db:      db,
		dialect: dialect,
		logger:  logger.Named("storage.sql").With(zap.String("dialect", string(dialect))),
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file in WAL mode.
func OpenSQLite(path string, logger *zap.Logger) (*SQLBackend, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("sqlite path must not be empty")
	}
	if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cleanPath)
	db, err := sql.Open(sqliteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", cleanPath, err)
	}
	// Durability workers write concurrently; a single connection keeps
	// SQLite from returning SQLITE_BUSY under WAL.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	return NewSQLBackend(db, DialectSQLite, logger), nil
}

// OpenPostgres opens a connection pool to PostgreSQL via lib/pq.
func OpenPostgres(cfg config.Postgres, logger *zap.Logger) (*SQLBackend, error) {
	db, err := sql.Open(postgresDriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	return NewSQLBackend(db, DialectPostgres, logger), nil
}

// ============================================================================
// SCHEMA
// ============================================================================

func (s *SQLBackend) schema() []string {
	weightType, timeType := "REAL", "TEXT"
	if s.dialect == DialectPostgres {
		weightType, timeType = "DOUBLE PRECISION", "TIMESTAMPTZ"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS codex_nodes (
  id_key      TEXT PRIMARY KEY,
  id          TEXT NOT NULL,
  type_id     TEXT NOT NULL,
  state       TEXT NOT NULL DEFAULT '',
  locale      TEXT NOT NULL DEFAULT '',
  title       TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  content     TEXT,
  meta        TEXT,
  updated_at  ` + timeType + ` NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_codex_nodes_type ON codex_nodes (type_id)`,
		`CREATE TABLE IF NOT EXISTS codex_edges (
  from_key   TEXT NOT NULL,
  to_key     TEXT NOT NULL,
  role       TEXT NOT NULL,
  from_id    TEXT NOT NULL,
  to_id      TEXT NOT NULL,
  weight     ` + weightType + `,
  meta       TEXT,
  updated_at ` + timeType + ` NOT NULL,
  PRIMARY KEY (from_key, to_key, role)
)`,
		`CREATE INDEX IF NOT EXISTS idx_codex_edges_to ON codex_edges (to_key)`,
	}
}

// Initialize creates the tables and indexes if they do not exist.
func (s *SQLBackend) Initialize(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect, err)
	}
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("initialize %s schema: %w", s.dialect, err)
		}
	}
	s.logger.Info("SQL storage initialized")
	return nil
}

// ============================================================================
// QUERIES
// ============================================================================

const (
	selectNodesSQL = `SELECT id, type_id, state, locale, title, description, content, meta FROM codex_nodes ORDER BY id_key`
	selectEdgesSQL = `SELECT from_id, to_id, role, weight, meta FROM codex_edges ORDER BY from_key, to_key, role`

	upsertNodeSQL = `INSERT INTO codex_nodes (id_key, id, type_id, state, locale, title, description, content, meta, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id_key) DO UPDATE SET
  id=excluded.id,
  type_id=excluded.type_id,
  state=excluded.state,
  locale=excluded.locale,
  title=excluded.title,
  description=excluded.description,
  content=excluded.content,
  meta=excluded.meta,
  updated_at=excluded.updated_at`

	upsertEdgeSQL = `INSERT INTO codex_edges (from_key, to_key, role, from_id, to_id, weight, meta, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (from_key, to_key, role) DO UPDATE SET
  from_id=excluded.from_id,
  to_id=excluded.to_id,
  weight=excluded.weight,
  meta=excluded.meta,
  updated_at=excluded.updated_at`

	deleteNodeSQL = `DELETE FROM codex_nodes WHERE id_key = ?`
	deleteEdgeSQL = `DELETE FROM codex_edges WHERE from_key = ? AND to_key = ? AND role = ?`

	countNodesSQL = `SELECT COUNT(*) FROM codex_nodes`
	countEdgesSQL = `SELECT COUNT(*) FROM codex_edges`

	sqliteSizeSQL   = `SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`
	postgresSizeSQL = `SELECT pg_total_relation_size('codex_nodes') + pg_total_relation_size('codex_edges')`
)

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLBackend) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLBackend) timestamp() any {
	now := time.Now().UTC()
	if s.dialect == DialectPostgres {
		return now
	}
	return now.Format(time.RFC3339Nano)
}

func (s *SQLBackend) GetAllNodes(ctx context.Context) ([]graph.Node, error) {
	rows, err := s.db.QueryContext(ctx, selectNodesSQL)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var nodes []graph.Node
	for rows.Next() {
		var (
			n             graph.Node
			state         string
			content, meta sql.NullString
		)
		if err := rows.Scan(&n.ID, &n.TypeID, &state, &n.Locale, &n.Title, &n.Description, &content, &meta); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		n.State = graph.NodeState(state)
		if content.Valid && content.String != "" {
			var ref graph.ContentRef
			if err := json.Unmarshal([]byte(content.String), &ref); err != nil {
				return nil, fmt.Errorf("decode content of node %s: %w", n.ID, err)
			}
			n.Content = &ref
		}
		if n.Meta, err = decodeMeta(meta); err != nil {
			return nil, fmt.Errorf("decode meta of node %s: %w", n.ID, err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

func (s *SQLBackend) GetAllEdges(ctx context.Context) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx, selectEdgesSQL)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var edges []graph.Edge
	for rows.Next() {
		var (
			e      graph.Edge
			weight sql.NullFloat64
			meta   sql.NullString
		)
		if err := rows.Scan(&e.FromID, &e.ToID, &e.Role, &weight, &meta); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		// SQLite stores NaN as NULL.
		e.Weight = math.NaN()
		if weight.Valid {
			e.Weight = weight.Float64
		}
		if e.Meta, err = decodeMeta(meta); err != nil {
			return nil, fmt.Errorf("decode meta of edge %s: %w", e.Key(), err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges: %w", err)
	}
	return edges, nil
}

func (s *SQLBackend) StoreNode(ctx context.Context, node graph.Node) error {
	var content sql.NullString
	if node.Content != nil {
		raw, err := json.Marshal(node.Content)
		if err != nil {
			return fmt.Errorf("encode content of node %s: %w", node.ID, err)
		}
		content = sql.NullString{String: string(raw), Valid: true}
	}
	meta, err := encodeMeta(node.Meta)
	if err != nil {
		return fmt.Errorf("encode meta of node %s: %w", node.ID, err)
	}

	_, err = s.db.ExecContext(ctx, s.rebind(upsertNodeSQL),
		node.Key(), node.ID, node.TypeID, string(node.State), node.Locale, node.Title, node.Description,
		content, meta, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("store node %s: %w", node.ID, err)
	}
	return nil
}

func (s *SQLBackend) StoreEdge(ctx context.Context, edge graph.Edge) error {
	meta, err := encodeMeta(edge.Meta)
	if err != nil {
		return fmt.Errorf("encode meta of edge %s: %w", edge.Key(), err)
	}
	var weight sql.NullFloat64
	if !math.IsNaN(edge.Weight) || s.dialect == DialectPostgres {
		weight = sql.NullFloat64{Float64: edge.Weight, Valid: true}
	}

	key := edge.Key()
	_, err = s.db.ExecContext(ctx, s.rebind(upsertEdgeSQL),
		key.From, key.To, key.Role, edge.FromID, edge.ToID, weight, meta, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("store edge %s: %w", key, err)
	}
	return nil
}

func (s *SQLBackend) DeleteNode(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(deleteNodeSQL), graph.FoldID(id)); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

func (s *SQLBackend) DeleteEdge(ctx context.Context, fromID, toID, role string) error {
	key := graph.NewEdgeKey(fromID, toID, role)
	if _, err := s.db.ExecContext(ctx, s.rebind(deleteEdgeSQL), key.From, key.To, key.Role); err != nil {
		return fmt.Errorf("delete edge %s: %w", key, err)
	}
	return nil
}

func (s *SQLBackend) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: string(s.dialect)}
	if err := s.db.QueryRowContext(ctx, countNodesSQL).Scan(&stats.NodeCount); err != nil {
		return Stats{}, fmt.Errorf("count nodes: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, countEdgesSQL).Scan(&stats.EdgeCount); err != nil {
		return Stats{}, fmt.Errorf("count edges: %w", err)
	}

	sizeSQL := sqliteSizeSQL
	if s.dialect == DialectPostgres {
		sizeSQL = postgresSizeSQL
	}
	if err := s.db.QueryRowContext(ctx, sizeSQL).Scan(&stats.SizeBytes); err != nil {
		// Size is informational; counts are still useful without it.
		s.logger.Warn("Failed to read storage size", zap.Error(err))
	}

	dbStats := s.db.Stats()
	stats.Details = map[string]any{
		"open_connections": dbStats.OpenConnections,
		"in_use":           dbStats.InUse,
		"wait_count":       dbStats.WaitCount,
	}
	return stats, nil
}

func (s *SQLBackend) IsAvailable(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func (s *SQLBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func encodeMeta(meta map[string]any) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeMeta(raw sql.NullString) (map[string]any, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	return decodeJSONMeta([]byte(raw.String))
}
