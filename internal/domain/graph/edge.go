package graph

// Edge is a typed, weighted, directed relationship. FromID and ToID are not
// enforced against existing nodes; dangling edges are allowed.
type Edge struct {
	FromID string         `json:"fromId" validate:"required"`
	ToID   string         `json:"toId" validate:"required"`
	Role   string         `json:"role" validate:"required"`
	Weight float64        `json:"weight"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// EdgeKey is the composite natural key of an edge.
type EdgeKey struct {
	From string
	To   string
	Role string
}

// NewEdgeKey builds the composite key for the given endpoints and role.
func NewEdgeKey(fromID, toID, role string) EdgeKey {
	return EdgeKey{From: FoldID(fromID), To: FoldID(toID), Role: role}
}

// Key returns the composite natural key of the edge.
func (e Edge) Key() EdgeKey {
	return NewEdgeKey(e.FromID, e.ToID, e.Role)
}

// Touches reports whether the edge is incident to the node with the given id.
func (e Edge) Touches(id string) bool {
	key := FoldID(id)
	return FoldID(e.FromID) == key || FoldID(e.ToID) == key
}

// Clone returns a copy that shares no mutable state with e.
func (e Edge) Clone() Edge {
	out := e
	out.Meta = cloneMeta(e.Meta)
	return out
}

// String renders the key as from->to[role].
func (k EdgeKey) String() string {
	return k.From + "->" + k.To + "[" + k.Role + "]"
}
