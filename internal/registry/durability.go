package registry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"codex-backend/internal/config"
	"codex-backend/internal/domain/graph"
	apperrors "codex-backend/internal/errors"
	"codex-backend/internal/infrastructure/observability"
	"codex-backend/internal/storage"
)

// ============================================================================
// OPERATIONS
// ============================================================================

type opKind int

const (
	opStoreNode opKind = iota
	opStoreEdge
	opDeleteNode
	opDeleteEdge
)

func (k opKind) String() string {
	switch k {
	case opStoreNode:
		return "store_node"
	case opStoreEdge:
		return "store_edge"
	case opDeleteNode:
		return "delete_node"
	case opDeleteEdge:
		return "delete_edge"
	default:
		return "unknown"
	}
}

// operation is one durable write. Edge deletes carry the edge endpoints in
// edge; node deletes carry only nodeID.
type operation struct {
	kind   opKind
	node   graph.Node
	edge   graph.Edge
	nodeID string
}

func storeNodeOp(n graph.Node) operation { return operation{kind: opStoreNode, node: n} }
func storeEdgeOp(e graph.Edge) operation { return operation{kind: opStoreEdge, edge: e} }
func deleteNodeOp(id string) operation   { return operation{kind: opDeleteNode, nodeID: id} }

func deleteEdgeOp(fromID, toID, role string) operation {
	return operation{kind: opDeleteEdge, edge: graph.Edge{FromID: fromID, ToID: toID, Role: role}}
}

// entityID identifies the entity in logs.
func (op operation) entityID() string {
	switch op.kind {
	case opStoreNode:
		return op.node.ID
	case opDeleteNode:
		return op.nodeID
	default:
		return op.edge.Key().String()
	}
}

// routingKey decides the worker. Every operation on the same entity shares a
// routing key, so writes to one entity are applied in the order they were
// issued.
func (op operation) routingKey() string {
	switch op.kind {
	case opStoreNode:
		return "node:" + op.node.Key()
	case opDeleteNode:
		return "node:" + graph.FoldID(op.nodeID)
	default:
		return "edge:" + op.edge.Key().String()
	}
}

// ============================================================================
// PIPELINE
// ============================================================================

// durabilityPipeline mirrors registry mutations into the storage backend in
// the background. Callers never wait on it: a full queue drops the operation
// and reports it.
type durabilityPipeline struct {
	backend   storage.Backend
	cfg       config.Durability
	timeout   time.Duration
	publisher EventPublisher
	collector *observability.Collector
	logger    *zap.Logger

	queues  []chan operation
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter

	pending atomic.Int64

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newDurabilityPipeline(
	backend storage.Backend,
	cfg config.Durability,
	timeout time.Duration,
	publisher EventPublisher,
	collector *observability.Collector,
	logger *zap.Logger,
) *durabilityPipeline {
	cfg = normalizeDurability(cfg)
	ctx, cancel := context.WithCancel(context.Background())

	d := &durabilityPipeline{
		backend:   backend,
		cfg:       cfg,
		timeout:   timeout,
		publisher: publisher,
		collector: collector,
		logger:    logger,
		queues:    make([]chan operation, cfg.Workers),
		ctx:       ctx,
		cancel:    cancel,
	}

	if cfg.CircuitBreaker.Enabled {
		d.breaker = newBreaker(cfg.CircuitBreaker, logger)
	}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst)
	}

	perWorker := max(cfg.QueueSize/cfg.Workers, 1)
	for i := range d.queues {
		d.queues[i] = make(chan operation, perWorker)
		d.wg.Add(1)
		go d.worker(d.queues[i])
	}
	return d
}

func normalizeDurability(cfg config.Durability) config.Durability {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.RateLimit > 0 && cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.CircuitBreaker.ConsecutiveFailures == 0 {
		cfg.CircuitBreaker.ConsecutiveFailures = 5
	}
	if cfg.CircuitBreaker.HalfOpenRequests == 0 {
		cfg.CircuitBreaker.HalfOpenRequests = 1
	}
	return cfg
}

func newBreaker(cfg config.CircuitBreaker, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "storage-writes",
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// Rejected writes (validation, conflicts) say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || !apperrors.IsRetryable(err)
		},
	})
}

// enqueue hands op to its worker without blocking. It reports false when the
// operation was dropped.
func (d *durabilityPipeline) enqueue(op operation) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(op, "durability pipeline closed")
		return false
	}

	q := d.queues[xxhash.Sum64String(op.routingKey())%uint64(len(d.queues))]
	d.pending.Add(1)
	select {
	case q <- op:
		d.collector.SetDurablePending(d.pending.Load())
		return true
	default:
		d.pending.Add(-1)
		d.drop(op, "durability queue full")
		return false
	}
}

func (d *durabilityPipeline) drop(op operation, reason string) {
	d.collector.IncDurableDropped()
	d.logger.Error("durable write dropped",
		zap.String("operation", op.kind.String()),
		zap.String("entity_id", op.entityID()),
		zap.String("reason", reason),
	)
}

func (d *durabilityPipeline) worker(queue <-chan operation) {
	defer d.wg.Done()
	for op := range queue {
		d.process(op)
		d.collector.SetDurablePending(d.pending.Add(-1))
	}
}

func (d *durabilityPipeline) process(op operation) {
	attempts, err := d.executeWithRetry(op)
	if err == nil {
		d.collector.RecordDurableWrite(op.kind.String(), "success")
		if attempts > 1 {
			d.logger.Info("durable write succeeded after retry",
				zap.String("operation", op.kind.String()),
				zap.String("entity_id", op.entityID()),
				zap.Int("attempt", attempts),
			)
		}
		d.publish(op)
		return
	}

	d.collector.RecordDurableWrite(op.kind.String(), "failure")
	d.logger.Error("durable write failed",
		zap.String("operation", op.kind.String()),
		zap.String("entity_id", op.entityID()),
		zap.Int("attempt", attempts),
		zap.Error(err),
	)
}

// executeWithRetry runs op until it succeeds, fails with a non-retryable
// error, or exhausts MaxAttempts. It returns the number of attempts made.
func (d *durabilityPipeline) executeWithRetry(op operation) (int, error) {
	var lastErr error

	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		if err := d.ctx.Err(); err != nil {
			return attempt, fmt.Errorf("durability pipeline stopped before attempt %d: %w", attempt+1, err)
		}

		err := d.execute(op)
		if err == nil {
			return attempt + 1, nil
		}
		lastErr = err

		if attempt+1 >= d.cfg.MaxAttempts || !apperrors.IsRetryable(err) {
			return attempt + 1, err
		}

		delay := d.calculateDelay(attempt)
		d.collector.RecordDurableWrite(op.kind.String(), "retry")
		d.logger.Warn("retrying durable write",
			zap.String("operation", op.kind.String()),
			zap.String("entity_id", op.entityID()),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-time.After(delay):
		case <-d.ctx.Done():
			return attempt + 1, fmt.Errorf("durability pipeline stopped during retry delay: %w", lastErr)
		}
	}

	return d.cfg.MaxAttempts, fmt.Errorf("operation failed after %d attempts: %w", d.cfg.MaxAttempts, lastErr)
}

// execute performs a single attempt behind the rate limiter and breaker.
func (d *durabilityPipeline) execute(op operation) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(d.ctx); err != nil {
			return apperrors.FromStorageError(op.kind.String(), op.entityID(), err)
		}
	}

	call := func() error {
		ctx, cancel := d.operationContext()
		defer cancel()

		switch op.kind {
		case opStoreNode:
			return d.backend.StoreNode(ctx, op.node)
		case opStoreEdge:
			return d.backend.StoreEdge(ctx, op.edge)
		case opDeleteNode:
			return d.backend.DeleteNode(ctx, op.nodeID)
		case opDeleteEdge:
			return d.backend.DeleteEdge(ctx, op.edge.FromID, op.edge.ToID, op.edge.Role)
		default:
			return apperrors.NewInternalError("unknown durable operation " + op.kind.String())
		}
	}

	var err error
	if d.breaker != nil {
		_, err = d.breaker.Execute(func() (any, error) {
			return nil, call()
		})
	} else {
		err = call()
	}
	if err != nil {
		return apperrors.FromStorageError(op.kind.String(), op.entityID(), err)
	}
	return nil
}

func (d *durabilityPipeline) operationContext() (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(d.ctx, d.timeout)
	}
	return context.WithCancel(d.ctx)
}

// calculateDelay returns the exponential backoff for attempt with symmetric
// jitter, capped at MaxBackoff.
func (d *durabilityPipeline) calculateDelay(attempt int) time.Duration {
	base := float64(d.cfg.InitialBackoff) * math.Pow(d.cfg.BackoffFactor, float64(attempt))
	if base > float64(d.cfg.MaxBackoff) {
		base = float64(d.cfg.MaxBackoff)
	}

	jitter := d.cfg.JitterFactor * base * (rand.Float64()*2 - 1)
	delay := base + jitter
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (d *durabilityPipeline) publish(op operation) {
	if d.publisher == nil {
		return
	}

	ctx, cancel := d.operationContext()
	defer cancel()

	err := d.publisher.Publish(ctx, []ChangeEvent{changeEventFor(op, time.Now())})
	d.collector.RecordEventsPublished(1, err)
	if err != nil {
		d.logger.Warn("failed to publish change event",
			zap.String("operation", op.kind.String()),
			zap.String("entity_id", op.entityID()),
			zap.Error(err),
		)
	}
}

// ============================================================================
// FLUSH AND SHUTDOWN
// ============================================================================

// Pending returns the number of accepted operations not yet finished.
func (d *durabilityPipeline) Pending() int64 {
	return d.pending.Load()
}

// flush waits until every accepted operation has finished or ctx ends.
func (d *durabilityPipeline) flush(ctx context.Context) error {
	if d.pending.Load() == 0 {
		return nil
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush interrupted with %d durable writes pending: %w", d.pending.Load(), ctx.Err())
		case <-ticker.C:
			if d.pending.Load() == 0 {
				return nil
			}
		}
	}
}

// close stops accepting operations and drains the queues. When ctx ends first
// the remaining operations are abandoned and ctx's error is returned.
func (d *durabilityPipeline) close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
