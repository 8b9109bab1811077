package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeClone_DoesNotShareMutableState(t *testing.T) {
	original := Node{
		ID:     "N1",
		TypeID: "doc",
		Content: &ContentRef{
			InlineBytes: []byte{1, 2, 3},
			Headers:     map[string]string{"accept": "json"},
		},
		Meta: map[string]any{
			"tags":   []any{"a"},
			"nested": map[string]any{"k": "v"},
		},
	}

	clone := original.Clone()
	clone.Content.InlineBytes[0] = 9
	clone.Content.Headers["accept"] = "xml"
	clone.Meta["tags"].([]any)[0] = "b"
	clone.Meta["nested"].(map[string]any)["k"] = "changed"
	clone.Meta["new"] = true

	assert.Equal(t, byte(1), original.Content.InlineBytes[0])
	assert.Equal(t, "json", original.Content.Headers["accept"])
	assert.Equal(t, "a", original.Meta["tags"].([]any)[0])
	assert.Equal(t, "v", original.Meta["nested"].(map[string]any)["k"])
	assert.NotContains(t, original.Meta, "new")
}

func TestNodeClone_CopiesNestedMetaAtEveryDepth(t *testing.T) {
	original := Node{
		ID: "N1",
		Meta: map[string]any{
			"outer": map[string]any{
				"inner": map[string]any{"k": "v"},
				"rows":  []any{map[string]any{"n": 1}, []any{"deep"}},
			},
		},
	}

	clone := original.Clone()
	outer := clone.Meta["outer"].(map[string]any)
	outer["inner"].(map[string]any)["k"] = "changed"
	rows := outer["rows"].([]any)
	rows[0].(map[string]any)["n"] = 2
	rows[1].([]any)[0] = "shallow"

	origOuter := original.Meta["outer"].(map[string]any)
	assert.Equal(t, "v", origOuter["inner"].(map[string]any)["k"])
	origRows := origOuter["rows"].([]any)
	assert.Equal(t, 1, origRows[0].(map[string]any)["n"])
	assert.Equal(t, "deep", origRows[1].([]any)[0])

	edge := Edge{FromID: "a", ToID: "b", Role: "r", Meta: original.Meta}
	edgeClone := edge.Clone()
	edgeClone.Meta["outer"].(map[string]any)["inner"].(map[string]any)["k"] = "edge"
	assert.Equal(t, "v", origOuter["inner"].(map[string]any)["k"])
}

func TestEdgeKey_FoldsEndpointsButNotRole(t *testing.T) {
	a := Edge{FromID: "Alpha", ToID: "BETA", Role: "cites"}
	b := Edge{FromID: "alpha", ToID: "beta", Role: "cites"}
	c := Edge{FromID: "alpha", ToID: "beta", Role: "Cites"}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, "alpha->beta[cites]", a.Key().String())
}

func TestEdgeTouches(t *testing.T) {
	e := Edge{FromID: "A", ToID: "b", Role: "r"}

	assert.True(t, e.Touches("a"))
	assert.True(t, e.Touches("B"))
	assert.False(t, e.Touches("c"))
}

func TestContentRefKinds(t *testing.T) {
	assert.True(t, ContentRef{InlineJSON: `{}`}.IsInline())
	assert.True(t, ContentRef{InlineBytes: []byte("x")}.IsInline())
	assert.True(t, ContentRef{ExternalURI: "s3://bucket/key"}.IsExternal())
	assert.False(t, ContentRef{InlineJSON: `{}`, ExternalURI: "s3://bucket/key"}.IsExternal())
}
