package registry

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"codex-backend/internal/config"
	"codex-backend/internal/domain/graph"
	apperrors "codex-backend/internal/errors"
	"codex-backend/internal/infrastructure/observability"
	"codex-backend/internal/storage"
)

func newTestPipeline(t *testing.T, backend storage.Backend, cfg config.Durability, publisher EventPublisher, collector *observability.Collector) *durabilityPipeline {
	t.Helper()
	d := newDurabilityPipeline(backend, cfg, time.Second, publisher, collector, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.close(ctx)
	})
	return d
}

func flushPipeline(t *testing.T, d *durabilityPipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.flush(ctx))
}

func TestDurability_RetriesRetryableErrors(t *testing.T) {
	backend := &MockBackend{}
	backend.On("StoreNode", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Twice()
	backend.On("StoreNode", mock.Anything, mock.Anything).Return(nil)

	collector := observability.NewCollector("test")
	d := newTestPipeline(t, backend, fastDurability(), nil, collector)

	require.True(t, d.enqueue(storeNodeOp(graph.Node{ID: "n1"})))
	flushPipeline(t, d)

	backend.AssertNumberOfCalls(t, "StoreNode", 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.DurableWrites.WithLabelValues("store_node", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.DurableWrites.WithLabelValues("store_node", "success")))
	assert.Zero(t, testutil.ToFloat64(collector.DurablePending))
}

func TestDurability_DoesNotRetryNonRetryableErrors(t *testing.T) {
	backend := &MockBackend{}
	backend.On("StoreEdge", mock.Anything, mock.Anything).Return(apperrors.NewValidationError("bad edge"))

	collector := observability.NewCollector("test")
	d := newTestPipeline(t, backend, fastDurability(), nil, collector)

	require.True(t, d.enqueue(storeEdgeOp(graph.Edge{FromID: "a", ToID: "b", Role: "r"})))
	flushPipeline(t, d)

	backend.AssertNumberOfCalls(t, "StoreEdge", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.DurableWrites.WithLabelValues("store_edge", "failure")))
}

func TestDurability_GivesUpAfterMaxAttempts(t *testing.T) {
	backend := &MockBackend{}
	backend.On("DeleteNode", mock.Anything, "n1").Return(errors.New("timeout talking to storage"))

	cfg := fastDurability()
	cfg.MaxAttempts = 4
	d := newTestPipeline(t, backend, cfg, nil, nil)

	require.True(t, d.enqueue(deleteNodeOp("n1")))
	flushPipeline(t, d)

	backend.AssertNumberOfCalls(t, "DeleteNode", 4)
}

func TestDurability_CircuitBreakerStopsCallingBackend(t *testing.T) {
	backend := &MockBackend{}
	backend.On("StoreNode", mock.Anything, mock.Anything).Return(errors.New("storage down"))

	cfg := fastDurability()
	cfg.Workers = 1
	cfg.MaxAttempts = 1
	cfg.CircuitBreaker = config.CircuitBreaker{
		Enabled:             true,
		ConsecutiveFailures: 2,
		OpenTimeout:         time.Minute,
		HalfOpenRequests:    1,
	}
	d := newTestPipeline(t, backend, cfg, nil, nil)

	for i := range 5 {
		require.True(t, d.enqueue(storeNodeOp(graph.Node{ID: "n" + strconv.Itoa(i)})))
	}
	flushPipeline(t, d)

	backend.AssertNumberOfCalls(t, "StoreNode", 2)
}

func TestDurability_FullQueueDropsOperation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	backend := &MockBackend{}
	backend.On("StoreNode", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			once.Do(func() { close(started) })
			<-release
		}).
		Return(nil)

	cfg := fastDurability()
	cfg.Workers = 1
	cfg.QueueSize = 1
	collector := observability.NewCollector("test")
	d := newTestPipeline(t, backend, cfg, nil, collector)

	require.True(t, d.enqueue(storeNodeOp(graph.Node{ID: "n1"})))
	<-started
	require.True(t, d.enqueue(storeNodeOp(graph.Node{ID: "n2"})))

	assert.False(t, d.enqueue(storeNodeOp(graph.Node{ID: "n3"})), "enqueue must not block on a full queue")
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.DurableDropped))
	assert.Equal(t, int64(2), d.Pending())

	close(release)
	flushPipeline(t, d)
	backend.AssertNumberOfCalls(t, "StoreNode", 2)
}

// orderedBackend records the titles stored for each node.
type orderedBackend struct {
	*storage.MemoryBackend
	mu     sync.Mutex
	titles []string
}

func (b *orderedBackend) StoreNode(ctx context.Context, node graph.Node) error {
	b.mu.Lock()
	b.titles = append(b.titles, node.Title)
	b.mu.Unlock()
	return b.MemoryBackend.StoreNode(ctx, node)
}

func TestDurability_PreservesOrderPerEntity(t *testing.T) {
	backend := &orderedBackend{MemoryBackend: storage.NewMemoryBackend()}
	d := newTestPipeline(t, backend, fastDurability(), nil, nil)

	for i := range 100 {
		id := "n1"
		if i%2 == 1 {
			id = "N1"
		}
		require.True(t, d.enqueue(storeNodeOp(graph.Node{ID: id, Title: strconv.Itoa(i)})))
	}
	flushPipeline(t, d)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.titles, 100)
	for i, title := range backend.titles {
		assert.Equal(t, strconv.Itoa(i), title)
	}
}

func TestDurability_PublishesChangeEvents(t *testing.T) {
	publisher := &recordingPublisher{}
	d := newTestPipeline(t, storage.NewMemoryBackend(), fastDurability(), publisher, nil)

	content := &graph.ContentRef{InlineJSON: "x", CacheKey: "k1"}
	require.True(t, d.enqueue(storeNodeOp(graph.Node{ID: "n1", TypeID: "doc", Content: content})))
	require.True(t, d.enqueue(deleteEdgeOp("a", "b", "cites")))
	flushPipeline(t, d)

	events := publisher.Events()
	require.Len(t, events, 2)

	byType := map[ChangeType]ChangeEvent{}
	for _, ev := range events {
		byType[ev.Type] = ev
	}
	assert.Equal(t, "n1", byType[ChangeNodeUpserted].NodeID)
	assert.Equal(t, "k1", byType[ChangeNodeUpserted].ContentKey)
	assert.Equal(t, "cites", byType[ChangeEdgeDeleted].Role)
	assert.False(t, byType[ChangeEdgeDeleted].OccurredAt.IsZero())
}

func TestDurability_CalculateDelay(t *testing.T) {
	d := &durabilityPipeline{cfg: config.Durability{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffFactor:  2,
		JitterFactor:   0.1,
	}}

	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{0, 90 * time.Millisecond, 110 * time.Millisecond},
		{1, 180 * time.Millisecond, 220 * time.Millisecond},
		{3, 720 * time.Millisecond, 880 * time.Millisecond},
		{10, 900 * time.Millisecond, 1100 * time.Millisecond},
	}

	for _, tt := range tests {
		for range 20 {
			delay := d.calculateDelay(tt.attempt)
			assert.GreaterOrEqual(t, delay, tt.min, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, delay, tt.max, "attempt %d", tt.attempt)
		}
	}
}

func TestDurability_CloseDrainsAndRejects(t *testing.T) {
	backend := storage.NewMemoryBackend()
	d := newDurabilityPipeline(backend, fastDurability(), time.Second, nil, nil, zap.NewNop())

	for i := range 10 {
		require.True(t, d.enqueue(storeNodeOp(graph.Node{ID: strconv.Itoa(i)})))
	}
	require.NoError(t, d.close(context.Background()))
	assert.Zero(t, d.Pending())

	nodes, err := backend.GetAllNodes(context.Background())
	require.NoError(t, err)
	assert.Len(t, nodes, 10)

	assert.False(t, d.enqueue(storeNodeOp(graph.Node{ID: "late"})))
	assert.NoError(t, d.close(context.Background()), "close is idempotent")
}

func TestOperation_RoutingKeyFoldsIDs(t *testing.T) {
	assert.Equal(t, storeNodeOp(graph.Node{ID: "Doc"}).routingKey(), deleteNodeOp("doc").routingKey())
	assert.Equal(t,
		storeEdgeOp(graph.Edge{FromID: "A", ToID: "B", Role: "r"}).routingKey(),
		deleteEdgeOp("a", "b", "r").routingKey(),
	)
	assert.NotEqual(t, deleteNodeOp("a").routingKey(), deleteEdgeOp("a", "b", "r").routingKey())
}
