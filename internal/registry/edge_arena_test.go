package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codex-backend/internal/domain/graph"
)

func edge(from, to, role string) graph.Edge {
	return graph.Edge{FromID: from, ToID: to, Role: role}
}

func TestEdgeArena_UpsertReplacesInPlace(t *testing.T) {
	a := newEdgeArena(0)

	assert.False(t, a.upsert(edge("a", "b", "r"), nil))
	assert.False(t, a.upsert(edge("b", "c", "r"), nil))
	replaced := graph.Edge{FromID: "A", ToID: "B", Role: "r", Weight: 2}
	assert.True(t, a.upsert(replaced, nil))

	all := a.all()
	require.Len(t, all, 2)
	assert.Equal(t, 2.0, all[0].Weight, "replacement keeps the original slot")
	assert.Equal(t, ArenaStats{Live: 2, Slots: 2}, a.stats())
}

func TestEdgeArena_RemoveTombstones(t *testing.T) {
	a := newEdgeArena(0)
	a.upsert(edge("a", "b", "r"), nil)
	a.upsert(edge("a", "c", "r"), nil)

	removed, ok := a.remove(graph.NewEdgeKey("A", "b", "r"), nil)
	require.True(t, ok)
	assert.Equal(t, "b", removed.ToID)

	_, ok = a.remove(graph.NewEdgeKey("a", "b", "r"), nil)
	assert.False(t, ok, "a tombstoned edge cannot be removed twice")

	_, ok = a.get(graph.NewEdgeKey("a", "b", "r"))
	assert.False(t, ok)
	assert.Len(t, a.all(), 1)
	assert.Len(t, a.outgoing("a"), 1)
	assert.Empty(t, a.incoming("b"))
	assert.Equal(t, ArenaStats{Live: 1, Tombstones: 1, Slots: 2}, a.stats())
}

func TestEdgeArena_ReinsertAfterRemoveAppends(t *testing.T) {
	a := newEdgeArena(0)
	a.upsert(edge("a", "b", "r"), nil)
	a.upsert(edge("a", "c", "r"), nil)
	a.remove(graph.NewEdgeKey("a", "b", "r"), nil)
	a.upsert(edge("a", "b", "r"), nil)

	out := a.outgoing("a")
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ToID)
	assert.Equal(t, "b", out[1].ToID)
}

func TestEdgeArena_RemoveTouching(t *testing.T) {
	a := newEdgeArena(0)
	a.upsert(edge("x", "y", "r"), nil)
	a.upsert(edge("y", "x", "r"), nil)
	a.upsert(edge("X", "x", "loop"), nil)
	a.upsert(edge("y", "z", "r"), nil)

	removed := a.removeTouching("X", nil)
	require.Len(t, removed, 3, "the self-loop is removed once")
	assert.Equal(t, "loop", removed[2].Role)

	all := a.all()
	require.Len(t, all, 1)
	assert.Equal(t, "z", all[0].ToID)
	assert.Nil(t, a.removeTouching("unknown", nil))
}

func TestEdgeArena_Compact(t *testing.T) {
	a := newEdgeArena(0)
	for _, to := range []string{"b", "c", "d", "e"} {
		a.upsert(edge("a", to, "r"), nil)
	}
	a.remove(graph.NewEdgeKey("a", "b", "r"), nil)
	a.remove(graph.NewEdgeKey("a", "d", "r"), nil)

	assert.Equal(t, 2, a.compact())
	assert.Zero(t, a.compact(), "nothing left to reclaim")
	assert.Equal(t, ArenaStats{Live: 2, Slots: 2, Generation: 1}, a.stats())

	out := a.outgoing("a")
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ToID)
	assert.Equal(t, "e", out[1].ToID)

	in := a.incoming("e")
	require.Len(t, in, 1)

	_, ok := a.remove(graph.NewEdgeKey("a", "e", "r"), nil)
	assert.True(t, ok, "indexes are rebuilt after compaction")
}

func TestEdgeArena_NeedsCompaction(t *testing.T) {
	a := newEdgeArena(0)
	for _, to := range []string{"b", "c", "d", "e"} {
		a.upsert(edge("a", to, "r"), nil)
	}
	assert.False(t, a.needsCompaction(0.25, 1))

	a.remove(graph.NewEdgeKey("a", "b", "r"), nil)
	assert.True(t, a.needsCompaction(0.25, 1))
	assert.False(t, a.needsCompaction(0.5, 1))
	assert.False(t, a.needsCompaction(0.25, 2))
	assert.False(t, a.needsCompaction(0, 0), "a zero ratio disables compaction")
}

func TestEdgeArena_ReturnsCopies(t *testing.T) {
	a := newEdgeArena(0)
	a.upsert(graph.Edge{FromID: "a", ToID: "b", Role: "r", Meta: map[string]any{"k": "v"}}, nil)

	got := a.all()
	got[0].Meta["k"] = "changed"

	again, ok := a.get(graph.NewEdgeKey("a", "b", "r"))
	require.True(t, ok)
	assert.Equal(t, "v", again.Meta["k"])
}
