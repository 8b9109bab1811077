package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"codex-backend/internal/config"
	"codex-backend/internal/domain/graph"
	"codex-backend/internal/storage"
)

// Mock implementations for testing

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Initialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockBackend) GetAllNodes(ctx context.Context) ([]graph.Node, error) {
	args := m.Called(ctx)
	nodes, _ := args.Get(0).([]graph.Node)
	return nodes, args.Error(1)
}

func (m *MockBackend) GetAllEdges(ctx context.Context) ([]graph.Edge, error) {
	args := m.Called(ctx)
	edges, _ := args.Get(0).([]graph.Edge)
	return edges, args.Error(1)
}

func (m *MockBackend) StoreNode(ctx context.Context, node graph.Node) error {
	args := m.Called(ctx, node)
	return args.Error(0)
}

func (m *MockBackend) StoreEdge(ctx context.Context, edge graph.Edge) error {
	args := m.Called(ctx, edge)
	return args.Error(0)
}

func (m *MockBackend) DeleteNode(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockBackend) DeleteEdge(ctx context.Context, fromID, toID, role string) error {
	args := m.Called(ctx, fromID, toID, role)
	return args.Error(0)
}

func (m *MockBackend) GetStats(ctx context.Context) (storage.Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(storage.Stats), args.Error(1)
}

func (m *MockBackend) IsAvailable(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

// expectEmptyLoad scripts a backend with no stored graph.
func expectEmptyLoad(m *MockBackend) {
	m.On("Initialize", mock.Anything).Return(nil)
	m.On("GetAllNodes", mock.Anything).Return([]graph.Node{}, nil)
	m.On("GetAllEdges", mock.Anything).Return([]graph.Edge{}, nil)
}

// recordingPublisher collects published change events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (p *recordingPublisher) Publish(_ context.Context, events []ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) Events() []ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChangeEvent(nil), p.events...)
}

func fastDurability() config.Durability {
	return config.Durability{
		Workers:        4,
		QueueSize:      1024,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}
}

// newReadyRegistry returns an initialized registry that is closed when the
// test ends.
func newReadyRegistry(t *testing.T, backend storage.Backend, opts Options) *PersistentRegistry {
	t.Helper()
	if opts.Durability == (config.Durability{}) {
		opts.Durability = fastDurability()
	}

	r := NewPersistentRegistry(backend, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Close(ctx)
	})
	require.NoError(t, r.Initialize(context.Background()))
	return r
}

func flush(t *testing.T, r *PersistentRegistry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}
