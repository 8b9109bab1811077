package addressing

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"math"

	"codex-backend/internal/domain/graph"
)

// Field order of the canonical documents is the declaration order of these
// structs. Changing it changes every stored hash.

type canonicalContentDoc struct {
	MediaType   *string           `json:"mediaType"`
	InlineJSON  *string           `json:"inlineJson"`
	InlineBytes *string           `json:"inlineBytes"`
	ExternalURI *string           `json:"externalUri"`
	Selector    *string           `json:"selector"`
	Query       *string           `json:"query"`
	Headers     map[string]string `json:"headers"`
	AuthRef     *string           `json:"authRef"`
}

type canonicalExternalDoc struct {
	ExternalURI *string           `json:"externalUri"`
	Selector    *string           `json:"selector"`
	Query       *string           `json:"query"`
	Headers     map[string]string `json:"headers"`
	AuthRef     *string           `json:"authRef"`
}

type canonicalStructureDoc struct {
	ID          *string        `json:"id"`
	TypeID      *string        `json:"typeId"`
	State       *string        `json:"state"`
	Locale      *string        `json:"locale"`
	Title       *string        `json:"title"`
	Description *string        `json:"description"`
	Meta        map[string]any `json:"meta"`
}

type canonicalEdgeDoc struct {
	FromID *string         `json:"fromId"`
	ToID   *string         `json:"toId"`
	Role   *string         `json:"role"`
	Weight canonicalWeight `json:"weight"`
	Meta   map[string]any  `json:"meta"`
}

// canonicalWeight encodes finite values as JSON numbers and non-finite ones,
// which JSON cannot represent, as strings.
type canonicalWeight float64

func (w canonicalWeight) MarshalJSON() ([]byte, error) {
	f := float64(w)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(f)
}

// CanonicalContent returns the canonical JSON form of a content reference's
// fields. CacheKey is not part of it.
func CanonicalContent(ref graph.ContentRef) ([]byte, error) {
	var inlineBytes *string
	if len(ref.InlineBytes) > 0 {
		encoded := base64.StdEncoding.EncodeToString(ref.InlineBytes)
		inlineBytes = &encoded
	}
	return encodeCanonical(canonicalContentDoc{
		MediaType:   optional(ref.MediaType),
		InlineJSON:  optional(ref.InlineJSON),
		InlineBytes: inlineBytes,
		ExternalURI: optional(ref.ExternalURI),
		Selector:    optional(ref.Selector),
		Query:       optional(ref.Query),
		Headers:     optionalMap(ref.Headers),
		AuthRef:     optional(ref.AuthRef),
	})
}

// CanonicalExternal returns the canonical JSON form of an external reference:
// the URI plus the context needed to fetch it.
func CanonicalExternal(ref graph.ContentRef) ([]byte, error) {
	return encodeCanonical(canonicalExternalDoc{
		ExternalURI: optional(ref.ExternalURI),
		Selector:    optional(ref.Selector),
		Query:       optional(ref.Query),
		Headers:     optionalMap(ref.Headers),
		AuthRef:     optional(ref.AuthRef),
	})
}

// CanonicalStructure returns the canonical JSON form of a node's identity and
// structure fields.
func CanonicalStructure(node graph.Node) ([]byte, error) {
	return encodeCanonical(canonicalStructureDoc{
		ID:          optional(node.ID),
		TypeID:      optional(node.TypeID),
		State:       optional(string(node.State)),
		Locale:      optional(node.Locale),
		Title:       optional(node.Title),
		Description: optional(node.Description),
		Meta:        optionalMap(node.Meta),
	})
}

// CanonicalEdge returns the canonical JSON form of an edge.
func CanonicalEdge(edge graph.Edge) ([]byte, error) {
	return encodeCanonical(canonicalEdgeDoc{
		FromID: optional(edge.FromID),
		ToID:   optional(edge.ToID),
		Role:   optional(edge.Role),
		Weight: canonicalWeight(edge.Weight),
		Meta:   optionalMap(edge.Meta),
	})
}

// encodeCanonical writes compact JSON without HTML escaping. encoding/json
// already emits map keys in sorted order at every depth.
func encodeCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalMap[V any](m map[string]V) map[string]V {
	if len(m) == 0 {
		return nil
	}
	return m
}
