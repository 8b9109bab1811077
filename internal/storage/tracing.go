package storage

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"codex-backend/internal/domain/graph"
)

// WithTracing wraps a backend so every call runs in its own span.
func WithTracing(backend Backend, tracer trace.Tracer) Backend {
	return &tracedBackend{inner: backend, tracer: tracer}
}

type tracedBackend struct {
	inner  Backend
	tracer trace.Tracer
}

func (b *tracedBackend) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return b.tracer.Start(ctx, "storage."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (b *tracedBackend) Initialize(ctx context.Context) (err error) {
	ctx, span := b.start(ctx, "Initialize")
	defer func() { finish(span, err) }()
	return b.inner.Initialize(ctx)
}

func (b *tracedBackend) GetAllNodes(ctx context.Context) (nodes []graph.Node, err error) {
	ctx, span := b.start(ctx, "GetAllNodes")
	defer func() {
		span.SetAttributes(attribute.Int("graph.node_count", len(nodes)))
		finish(span, err)
	}()
	return b.inner.GetAllNodes(ctx)
}

func (b *tracedBackend) GetAllEdges(ctx context.Context) (edges []graph.Edge, err error) {
	ctx, span := b.start(ctx, "GetAllEdges")
	defer func() {
		span.SetAttributes(attribute.Int("graph.edge_count", len(edges)))
		finish(span, err)
	}()
	return b.inner.GetAllEdges(ctx)
}

func (b *tracedBackend) StoreNode(ctx context.Context, node graph.Node) (err error) {
	ctx, span := b.start(ctx, "StoreNode", attribute.String("node.id", node.ID))
	defer func() { finish(span, err) }()
	return b.inner.StoreNode(ctx, node)
}

func (b *tracedBackend) StoreEdge(ctx context.Context, edge graph.Edge) (err error) {
	ctx, span := b.start(ctx, "StoreEdge", edgeAttributes(edge.FromID, edge.ToID, edge.Role)...)
	defer func() { finish(span, err) }()
	return b.inner.StoreEdge(ctx, edge)
}

func (b *tracedBackend) DeleteNode(ctx context.Context, id string) (err error) {
	ctx, span := b.start(ctx, "DeleteNode", attribute.String("node.id", id))
	defer func() { finish(span, err) }()
	return b.inner.DeleteNode(ctx, id)
}

func (b *tracedBackend) DeleteEdge(ctx context.Context, fromID, toID, role string) (err error) {
	ctx, span := b.start(ctx, "DeleteEdge", edgeAttributes(fromID, toID, role)...)
	defer func() { finish(span, err) }()
	return b.inner.DeleteEdge(ctx, fromID, toID, role)
}

func (b *tracedBackend) GetStats(ctx context.Context) (stats Stats, err error) {
	ctx, span := b.start(ctx, "GetStats")
	defer func() { finish(span, err) }()
	return b.inner.GetStats(ctx)
}

func (b *tracedBackend) IsAvailable(ctx context.Context) bool {
	ctx, span := b.start(ctx, "IsAvailable")
	defer span.End()
	ok := b.inner.IsAvailable(ctx)
	span.SetAttributes(attribute.Bool("storage.available", ok))
	return ok
}

func (b *tracedBackend) Close() error {
	return b.inner.Close()
}

func edgeAttributes(fromID, toID, role string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("edge.from_id", fromID),
		attribute.String("edge.to_id", toID),
		attribute.String("edge.role", role),
	}
}
