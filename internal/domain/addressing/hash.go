package addressing

import (
	"encoding/hex"

	"codex-backend/internal/domain/graph"
)

// Hash returns the lowercase hex digest of data. Empty or nil input returns
// "", which is deliberately not the digest of an empty payload: "no content"
// stays distinguishable from content.
func Hash(data []byte, algorithm string) string {
	if len(data) == 0 {
		return ""
	}
	h := ParseAlgorithm(algorithm).New()
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// HashText hashes the UTF-8 bytes of text with the same contract as Hash.
func HashText(text string, algorithm string) string {
	if text == "" {
		return ""
	}
	return Hash([]byte(text), algorithm)
}

// NodeContentHash hashes the canonical form of the node's content fields. A
// node without content hashes to "".
func NodeContentHash(node graph.Node, algorithm string) string {
	if node.Content == nil {
		return ""
	}
	doc, err := CanonicalContent(*node.Content)
	if err != nil {
		return ""
	}
	return Hash(doc, algorithm)
}

// NodeStructureHash hashes the node's identity and structure fields, ignoring
// content. Comparing it with NodeContentHash tells a content change apart from
// a structural one.
func NodeStructureHash(node graph.Node, algorithm string) string {
	doc, err := CanonicalStructure(node)
	if err != nil {
		return ""
	}
	return Hash(doc, algorithm)
}

// EdgeHash hashes the canonical form of an edge.
func EdgeHash(edge graph.Edge, algorithm string) string {
	doc, err := CanonicalEdge(edge)
	if err != nil {
		return ""
	}
	return Hash(doc, algorithm)
}
