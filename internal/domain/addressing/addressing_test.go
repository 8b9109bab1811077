package addressing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codex-backend/internal/domain/graph"
)

func TestHash_KnownVectors(t *testing.T) {
	tests := []struct {
		algorithm string
		expected  string
	}{
		{"SHA256", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"sha1", "a9993e364706816aba3e25717850c26c9cd0d89d"},
		{"Md5", "900150983cd24fb0d6963f7d28e17f72"},
		{"sha-256", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"SHA-1", "a9993e364706816aba3e25717850c26c9cd0d89d"},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			assert.Equal(t, tt.expected, Hash([]byte("abc"), tt.algorithm))
			assert.Equal(t, tt.expected, HashText("abc", tt.algorithm))
		})
	}
}

func TestHash_UnknownAlgorithmFallsBackToDefault(t *testing.T) {
	expected := Hash([]byte("abc"), "SHA256")

	assert.Equal(t, expected, Hash([]byte("abc"), "blake3"))
	assert.Equal(t, expected, Hash([]byte("abc"), ""))
	assert.Equal(t, DefaultAlgorithm, ParseAlgorithm("whirlpool"))
}

func TestHash_EmptyInputReturnsSentinel(t *testing.T) {
	for _, alg := range []string{"SHA256", "SHA1", "MD5", "unknown"} {
		assert.Equal(t, "", Hash(nil, alg), alg)
		assert.Equal(t, "", Hash([]byte{}, alg), alg)
		assert.Equal(t, "", HashText("", alg), alg)
	}
}

func TestHash_Deterministic(t *testing.T) {
	data := []byte(`{"title":"graph"}`)
	assert.Equal(t, Hash(data, "SHA256"), Hash(append([]byte(nil), data...), "SHA256"))
}

func TestNodeStructureHash_IndependentOfConstructionOrder(t *testing.T) {
	a := graph.Node{ID: "n1", TypeID: "doc", Title: "T"}
	a.Meta = map[string]any{"z": 1, "a": map[string]any{"y": true, "b": "x"}}

	var b graph.Node
	b.Meta = map[string]any{}
	b.Meta["a"] = map[string]any{"b": "x", "y": true}
	b.Meta["z"] = 1
	b.Title = "T"
	b.TypeID = "doc"
	b.ID = "n1"

	assert.Equal(t, NodeStructureHash(a, "SHA256"), NodeStructureHash(b, "SHA256"))
	assert.NotEmpty(t, NodeStructureHash(a, "SHA256"))
}

func TestNodeStructureHash_IgnoresContent(t *testing.T) {
	base := graph.Node{ID: "n1", TypeID: "doc"}
	withContent := base
	withContent.Content = &graph.ContentRef{InlineJSON: `{"a":1}`}

	assert.Equal(t, NodeStructureHash(base, "SHA256"), NodeStructureHash(withContent, "SHA256"))
	assert.NotEqual(t, NodeContentHash(base, "SHA256"), NodeContentHash(withContent, "SHA256"))
}

func TestNodeContentHash_NoContent(t *testing.T) {
	assert.Equal(t, "", NodeContentHash(graph.Node{ID: "n1"}, "SHA256"))
}

func TestCanonicalStructure_NullsAndOrder(t *testing.T) {
	doc, err := CanonicalStructure(graph.Node{ID: "n1", TypeID: "doc", State: graph.StateActive})
	require.NoError(t, err)

	assert.Equal(t,
		`{"id":"n1","typeId":"doc","state":"active","locale":null,"title":null,"description":null,"meta":null}`,
		string(doc))
}

func TestCanonicalContent_EncodesBytesAsBase64(t *testing.T) {
	doc, err := CanonicalContent(graph.ContentRef{
		MediaType:   "application/octet-stream",
		InlineBytes: []byte{0xff, 0x00},
		Headers:     map[string]string{"b": "2", "a": "1"},
		CacheKey:    "ignored",
	})
	require.NoError(t, err)

	assert.Equal(t,
		`{"mediaType":"application/octet-stream","inlineJson":null,"inlineBytes":"/wA=","externalUri":null,"selector":null,"query":null,"headers":{"a":"1","b":"2"},"authRef":null}`,
		string(doc))
}

func TestCanonicalEdge(t *testing.T) {
	doc, err := CanonicalEdge(graph.Edge{
		FromID: "a",
		ToID:   "b",
		Role:   "cites",
		Weight: 0.5,
		Meta:   map[string]any{"z": "<tag>", "a": 1},
	})
	require.NoError(t, err)

	assert.Equal(t, `{"fromId":"a","toId":"b","role":"cites","weight":0.5,"meta":{"a":1,"z":"<tag>"}}`, string(doc))
}

func TestEdgeHash_NonFiniteWeight(t *testing.T) {
	e := graph.Edge{FromID: "a", ToID: "b", Role: "r", Weight: math.Inf(1)}

	assert.NotEmpty(t, EdgeHash(e, "SHA256"))
	assert.Equal(t, EdgeHash(e, "SHA256"), EdgeHash(e, "SHA256"))

	e.Weight = math.NaN()
	assert.NotEmpty(t, EdgeHash(e, "SHA256"))
}

func TestEdgeHash_SensitiveToEveryField(t *testing.T) {
	base := graph.Edge{FromID: "a", ToID: "b", Role: "r", Weight: 1}
	h := EdgeHash(base, "SHA256")

	variants := []graph.Edge{
		{FromID: "x", ToID: "b", Role: "r", Weight: 1},
		{FromID: "a", ToID: "x", Role: "r", Weight: 1},
		{FromID: "a", ToID: "b", Role: "x", Weight: 1},
		{FromID: "a", ToID: "b", Role: "r", Weight: 2},
		{FromID: "a", ToID: "b", Role: "r", Weight: 1, Meta: map[string]any{"k": "v"}},
	}
	for _, v := range variants {
		assert.NotEqual(t, h, EdgeHash(v, "SHA256"), v)
	}
}

func TestComputeCacheKey_Precedence(t *testing.T) {
	jsonText := `{"x":1}`
	raw := []byte("binary")
	external := graph.ContentRef{ExternalURI: "s3://bucket/key", Selector: "$.a"}
	externalDoc, err := CanonicalExternal(external)
	require.NoError(t, err)

	tests := []struct {
		name     string
		ref      graph.ContentRef
		expected string
	}{
		{
			name:     "inline json wins over everything",
			ref:      graph.ContentRef{InlineJSON: jsonText, InlineBytes: raw, ExternalURI: "s3://bucket/key"},
			expected: HashText(jsonText, "SHA256"),
		},
		{
			name:     "inline bytes win over external",
			ref:      graph.ContentRef{InlineBytes: raw, ExternalURI: "s3://bucket/key"},
			expected: Hash(raw, "SHA256"),
		},
		{
			name:     "external uri with context",
			ref:      external,
			expected: Hash(externalDoc, "SHA256"),
		},
		{
			name:     "nothing populated",
			ref:      graph.ContentRef{MediaType: "text/plain"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ComputeCacheKey(tt.ref, "SHA256"))
		})
	}
}

func TestComputeCacheKey_ExternalContextMatters(t *testing.T) {
	a := graph.ContentRef{ExternalURI: "https://example.com/doc", Query: "page=1"}
	b := graph.ContentRef{ExternalURI: "https://example.com/doc", Query: "page=2"}

	assert.NotEqual(t, ComputeCacheKey(a, "SHA256"), ComputeCacheKey(b, "SHA256"))
}

func TestCreateContentAddressedRef_DoesNotMutateInput(t *testing.T) {
	in := graph.ContentRef{InlineJSON: "x"}
	out := CreateContentAddressedRef(in, "SHA256")

	assert.Empty(t, in.CacheKey)
	assert.Equal(t, HashText("x", "SHA256"), out.CacheKey)
}

func TestVerifyContentIntegrity(t *testing.T) {
	ref := CreateContentAddressedRef(graph.ContentRef{InlineJSON: "x"}, "SHA256")
	assert.True(t, VerifyContentIntegrity(ref, "SHA256"))

	tampered := ref
	tampered.InlineJSON = "y"
	assert.False(t, VerifyContentIntegrity(tampered, "SHA256"))

	assert.False(t, VerifyContentIntegrity(ref, "MD5"), "different algorithm must not verify")
	assert.False(t, VerifyContentIntegrity(graph.ContentRef{InlineJSON: "x"}, "SHA256"), "empty cache key")
}

func TestContentEqual(t *testing.T) {
	a := CreateContentAddressedRef(graph.ContentRef{InlineJSON: `{"k":1}`, MediaType: "application/json"}, "SHA256")
	b := CreateContentAddressedRef(graph.ContentRef{InlineJSON: `{"k":1}`}, "SHA256")
	c := CreateContentAddressedRef(graph.ContentRef{InlineJSON: `{"k":2}`}, "SHA256")

	assert.True(t, ContentEqual(a, b))
	assert.False(t, ContentEqual(a, c))
	assert.False(t, ContentEqual(graph.ContentRef{}, graph.ContentRef{}))
}
