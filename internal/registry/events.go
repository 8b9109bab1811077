package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChangeType names a committed graph mutation.
type ChangeType string

const (
	ChangeNodeUpserted ChangeType = "graph.node.upserted"
	ChangeNodeDeleted  ChangeType = "graph.node.deleted"
	ChangeEdgeUpserted ChangeType = "graph.edge.upserted"
	ChangeEdgeDeleted  ChangeType = "graph.edge.deleted"
)

// ChangeEvent describes a mutation after its durable write succeeded.
type ChangeEvent struct {
	ID         string     `json:"id"`
	Type       ChangeType `json:"type"`
	NodeID     string     `json:"nodeId,omitempty"`
	TypeID     string     `json:"typeId,omitempty"`
	ContentKey string     `json:"contentKey,omitempty"`
	FromID     string     `json:"fromId,omitempty"`
	ToID       string     `json:"toId,omitempty"`
	Role       string     `json:"role,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// EventPublisher receives change events from the durability pipeline.
// Publish failures are logged and never affect the registry.
type EventPublisher interface {
	Publish(ctx context.Context, events []ChangeEvent) error
}

func changeEventFor(op operation, now time.Time) ChangeEvent {
	ev := ChangeEvent{
		ID:         uuid.NewString(),
		OccurredAt: now.UTC(),
	}

	switch op.kind {
	case opStoreNode:
		ev.Type = ChangeNodeUpserted
		ev.NodeID = op.node.ID
		ev.TypeID = op.node.TypeID
		if op.node.Content != nil {
			ev.ContentKey = op.node.Content.CacheKey
		}
	case opDeleteNode:
		ev.Type = ChangeNodeDeleted
		ev.NodeID = op.nodeID
	case opStoreEdge:
		ev.Type = ChangeEdgeUpserted
		ev.FromID, ev.ToID, ev.Role = op.edge.FromID, op.edge.ToID, op.edge.Role
	case opDeleteEdge:
		ev.Type = ChangeEdgeDeleted
		ev.FromID, ev.ToID, ev.Role = op.edge.FromID, op.edge.ToID, op.edge.Role
	}
	return ev
}
