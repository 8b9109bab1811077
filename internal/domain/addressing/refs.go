package addressing

import "codex-backend/internal/domain/graph"

// ComputeCacheKey returns the content hash of ref. When content is supplied
// more than one way, the first populated source wins, always in this order:
//
//  1. InlineJSON, hashed as UTF-8 text
//  2. InlineBytes, hashed raw
//  3. ExternalURI, hashed over the canonical external form (uri, selector,
//     query, headers, authRef)
//
// A reference with none of them returns "".
func ComputeCacheKey(ref graph.ContentRef, algorithm string) string {
	switch {
	case ref.InlineJSON != "":
		return HashText(ref.InlineJSON, algorithm)
	case len(ref.InlineBytes) > 0:
		return Hash(ref.InlineBytes, algorithm)
	case ref.ExternalURI != "":
		doc, err := CanonicalExternal(ref)
		if err != nil {
			return ""
		}
		return Hash(doc, algorithm)
	default:
		return ""
	}
}

// CreateContentAddressedRef returns a copy of ref with CacheKey computed.
func CreateContentAddressedRef(ref graph.ContentRef, algorithm string) graph.ContentRef {
	out := ref.Clone()
	out.CacheKey = ComputeCacheKey(out, algorithm)
	return out
}

// VerifyContentIntegrity recomputes the cache key and compares it with the
// stored one. An empty CacheKey never verifies.
func VerifyContentIntegrity(ref graph.ContentRef, algorithm string) bool {
	if ref.CacheKey == "" {
		return false
	}
	return ComputeCacheKey(ref, algorithm) == ref.CacheKey
}

// ContentEqual reports whether a and b carry the same non-empty CacheKey.
// Raw content is not compared.
func ContentEqual(a, b graph.ContentRef) bool {
	return a.CacheKey != "" && a.CacheKey == b.CacheKey
}
