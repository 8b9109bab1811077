package graph

import "maps"

// ContentRef references content that is either inline (JSON text or bytes) or
// external (a URI plus the context needed to fetch it).
//
// CacheKey is the content hash computed when the reference was created. Two
// references with the same non-empty CacheKey are content-equal.
type ContentRef struct {
	MediaType   string            `json:"mediaType,omitempty"`
	InlineJSON  string            `json:"inlineJson,omitempty"`
	InlineBytes []byte            `json:"inlineBytes,omitempty"`
	ExternalURI string            `json:"externalUri,omitempty"`
	Selector    string            `json:"selector,omitempty"`
	Query       string            `json:"query,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	AuthRef     string            `json:"authRef,omitempty"`
	CacheKey    string            `json:"cacheKey,omitempty"`
}

// IsInline reports whether the content is carried inside the reference.
func (c ContentRef) IsInline() bool {
	return c.InlineJSON != "" || len(c.InlineBytes) > 0
}

// IsExternal reports whether the content lives behind ExternalURI.
func (c ContentRef) IsExternal() bool {
	return !c.IsInline() && c.ExternalURI != ""
}

// Clone returns a copy that shares no mutable state with c.
func (c ContentRef) Clone() ContentRef {
	out := c
	if c.InlineBytes != nil {
		out.InlineBytes = append([]byte(nil), c.InlineBytes...)
	}
	out.Headers = maps.Clone(c.Headers)
	return out
}
