// Package graph defines the node, edge and content reference types stored by
// the registry.
//
// Node ids are compared case-insensitively everywhere: the mirror, the edge
// indexes and the storage keys all go through FoldID. Edge roles are compared
// exactly.
package graph

import "strings"

// NodeState is the lifecycle tag of a node. The store treats it as opaque
// beyond hashing it.
type NodeState string

const (
	StateProvisional NodeState = "provisional"
	StateImmutable   NodeState = "immutable"
	StateActive      NodeState = "active"
)

// Node is a typed, content-bearing vertex.
type Node struct {
	ID          string         `json:"id" validate:"required"`
	TypeID      string         `json:"typeId" validate:"required"`
	State       NodeState      `json:"state,omitempty"`
	Locale      string         `json:"locale,omitempty"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Content     *ContentRef    `json:"content,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Key returns the folded comparison key of the node.
func (n Node) Key() string {
	return FoldID(n.ID)
}

// Clone returns a copy that shares no mutable state with n. Nested values
// inside Meta are copied one level deep.
func (n Node) Clone() Node {
	out := n
	if n.Content != nil {
		c := n.Content.Clone()
		out.Content = &c
	}
	out.Meta = cloneMeta(n.Meta)
	return out
}

// FoldID returns the case-insensitive comparison key for a node id.
func FoldID(id string) string {
	return strings.ToLower(id)
}

func cloneMeta(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = cloneValue(v)
	}
	return out
}

// cloneValue deep-copies the map and slice shapes JSON decoding produces.
func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneMeta(typed)
	case []any:
		if typed == nil {
			return typed
		}
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
