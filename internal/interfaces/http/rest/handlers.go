package rest

import (
	"context"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"codex-backend/internal/domain/addressing"
	"codex-backend/internal/domain/graph"
	apperrors "codex-backend/internal/errors"
	"codex-backend/internal/infrastructure/observability"
	"codex-backend/internal/registry"
)

const defaultMaxRequestSize = 1 << 20

// Handler serves the graph API on top of a registry.
type Handler struct {
	registry       registry.Registry
	algorithm      string
	collector      *observability.Collector
	validate       *validator.Validate
	logger         *zap.Logger
	maxRequestSize int64
}

// NewHandler creates a handler. algorithm is the default hash algorithm for
// content endpoints when a request does not name one.
func NewHandler(reg registry.Registry, algorithm string, maxRequestSize int64, collector *observability.Collector, logger *zap.Logger) *Handler {
	if reg == nil {
		panic("registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRequestSize <= 0 {
		maxRequestSize = defaultMaxRequestSize
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Handler{
		registry:       reg,
		algorithm:      addressing.ParseAlgorithm(algorithm).String(),
		collector:      collector,
		validate:       v,
		logger:         logger.Named("http"),
		maxRequestSize: maxRequestSize,
	}
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

type healthResponse struct {
	Status   string         `json:"status"`
	Registry registry.State `json:"registry"`
	Storage  bool           `json:"storage"`
}

// Health reports 200 once the registry is Ready and storage answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "healthy",
		Registry: h.registry.State(),
		Storage:  h.registry.IsStorageAvailable(r.Context()),
	}

	status := http.StatusOK
	if resp.Registry != registry.StateReady || !resp.Storage {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (h *Handler) RegistryStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Stats())
}

func (h *Handler) StorageStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.registry.StorageStats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// SyncStorage reloads the mirror from storage and returns the new stats.
func (h *Handler) SyncStorage(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.SyncWithStorage(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.registry.Stats())
}

// ============================================================================
// NODES
// ============================================================================

// ListNodes filters by contentKey, typePattern or typeId, in that order of
// precedence, and lists every node when none is given.
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		nodes []graph.Node
		err   error
	)
	switch {
	case q.Get("contentKey") != "":
		nodes, err = h.registry.GetNodesByContentKey(q.Get("contentKey"))
	case q.Get("typePattern") != "":
		nodes, err = h.registry.GetNodesByTypePattern(q.Get("typePattern"))
	case q.Get("typeId") != "":
		nodes, err = h.registry.GetNodesByType(q.Get("typeId"))
	default:
		nodes, err = h.registry.AllNodes()
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodeList{Nodes: nodes, Count: len(nodes)})
}

type nodeList struct {
	Nodes []graph.Node `json:"nodes"`
	Count int          `json:"count"`
}

func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	node, ok, err := h.registry.TryGet(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !ok {
		h.writeError(w, r, apperrors.NewNotFoundError("node", id))
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// PutNode upserts a node. A missing id is generated. Content without a cache
// key is content-addressed; content with one must verify.
func (h *Handler) PutNode(w http.ResponseWriter, r *http.Request) {
	var node graph.Node
	if err := h.decodeNode(w, r, &node, ""); err != nil {
		h.writeError(w, r, err)
		return
	}

	stored, err := h.upsertNode(r.Context(), node)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

// PutNodeByID upserts the node named by the path. A body id, when present,
// must name the same node.
func (h *Handler) PutNodeByID(w http.ResponseWriter, r *http.Request) {
	var node graph.Node
	if err := h.decodeNode(w, r, &node, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}

	stored, err := h.upsertNode(r.Context(), node)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (h *Handler) decodeNode(w http.ResponseWriter, r *http.Request, node *graph.Node, pathID string) error {
	if err := h.decodeRaw(w, r, node); err != nil {
		return err
	}
	switch {
	case pathID == "":
	case node.ID == "":
		node.ID = pathID
	case graph.FoldID(node.ID) != graph.FoldID(pathID):
		return apperrors.NewValidationError("body id does not match path id")
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	if err := h.validate.Struct(node); err != nil {
		return validationError(err)
	}
	return nil
}

func (h *Handler) upsertNode(ctx context.Context, node graph.Node) (graph.Node, error) {
	if node.Content == nil || node.Content.CacheKey == "" {
		return h.registry.UpsertNodeContent(ctx, node)
	}

	if !addressing.VerifyContentIntegrity(*node.Content, h.algorithm) {
		h.collector.IncIntegrityFailure()
		return graph.Node{}, apperrors.NewValidationError("content cache key does not match content")
	}
	if err := h.registry.UpsertNode(ctx, node); err != nil {
		return graph.Node{}, err
	}
	return node, nil
}

func (h *Handler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteNode(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// EDGES
// ============================================================================

type edgeList struct {
	Edges []graph.Edge `json:"edges"`
	Count int          `json:"count"`
}

func (h *Handler) writeEdges(w http.ResponseWriter, r *http.Request, edges []graph.Edge, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, edgeList{Edges: edges, Count: len(edges)})
}

func (h *Handler) ListEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := h.registry.AllEdges()
	h.writeEdges(w, r, edges, err)
}

func (h *Handler) OutgoingEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := h.registry.GetEdgesFrom(chi.URLParam(r, "id"))
	h.writeEdges(w, r, edges, err)
}

func (h *Handler) IncomingEdges(w http.ResponseWriter, r *http.Request) {
	edges, err := h.registry.GetEdgesTo(chi.URLParam(r, "id"))
	h.writeEdges(w, r, edges, err)
}

func (h *Handler) PutEdge(w http.ResponseWriter, r *http.Request) {
	var edge graph.Edge
	if err := h.decode(w, r, &edge); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.registry.UpsertEdge(r.Context(), edge); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

// DeleteEdge takes the composite key from the from, to and role query
// parameters.
func (h *Handler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to, role := q.Get("from"), q.Get("to"), q.Get("role")
	if from == "" || to == "" || role == "" {
		h.writeError(w, r, apperrors.NewValidationError("from, to and role are required"))
		return
	}
	if err := h.registry.DeleteEdge(r.Context(), from, to, role); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================================
// CONTENT ADDRESSING
// ============================================================================

type contentRefRequest struct {
	Content   graph.ContentRef `json:"content"`
	Algorithm string           `json:"algorithm,omitempty"`
}

type contentRefResponse struct {
	Ref       graph.ContentRef `json:"ref"`
	Algorithm string           `json:"algorithm"`
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	Expected  string `json:"expected"`
	Algorithm string `json:"algorithm"`
}

type hashRequest struct {
	Node      *graph.Node `json:"node,omitempty"`
	Edge      *graph.Edge `json:"edge,omitempty"`
	Algorithm string      `json:"algorithm,omitempty"`
}

type hashResponse struct {
	Algorithm          string `json:"algorithm"`
	ContentHash        string `json:"contentHash,omitempty"`
	StructureHash      string `json:"structureHash,omitempty"`
	EdgeHash           string `json:"edgeHash,omitempty"`
	CanonicalContent   string `json:"canonicalContent,omitempty"`
	CanonicalStructure string `json:"canonicalStructure,omitempty"`
	CanonicalEdge      string `json:"canonicalEdge,omitempty"`
}

func (h *Handler) resolveAlgorithm(name string) string {
	if name == "" {
		return h.algorithm
	}
	return addressing.ParseAlgorithm(name).String()
}

// CreateContentRef returns the content reference with its cache key set.
func (h *Handler) CreateContentRef(w http.ResponseWriter, r *http.Request) {
	var req contentRefRequest
	if err := h.decodeRaw(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	alg := h.resolveAlgorithm(req.Algorithm)
	ref := addressing.CreateContentAddressedRef(req.Content, alg)
	if ref.CacheKey == "" {
		h.writeError(w, r, apperrors.NewValidationError("content requires inlineJson, inlineBytes or externalUri"))
		return
	}
	writeJSON(w, http.StatusOK, contentRefResponse{Ref: ref, Algorithm: alg})
}

// VerifyContent reports whether the reference's cache key matches its content.
// A mismatch is a normal 200 response with valid=false.
func (h *Handler) VerifyContent(w http.ResponseWriter, r *http.Request) {
	var req contentRefRequest
	if err := h.decodeRaw(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	alg := h.resolveAlgorithm(req.Algorithm)
	valid := addressing.VerifyContentIntegrity(req.Content, alg)
	if !valid {
		h.collector.IncIntegrityFailure()
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:     valid,
		Expected:  addressing.ComputeCacheKey(req.Content, alg),
		Algorithm: alg,
	})
}

// HashEntities returns the content, structure and edge hashes together with
// the canonical documents they were computed over.
func (h *Handler) HashEntities(w http.ResponseWriter, r *http.Request) {
	var req hashRequest
	if err := h.decodeRaw(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Node == nil && req.Edge == nil {
		h.writeError(w, r, apperrors.NewValidationError("node or edge is required"))
		return
	}

	resp := hashResponse{Algorithm: h.resolveAlgorithm(req.Algorithm)}
	if req.Node != nil {
		resp.ContentHash = addressing.NodeContentHash(*req.Node, resp.Algorithm)
		resp.StructureHash = addressing.NodeStructureHash(*req.Node, resp.Algorithm)
		if req.Node.Content != nil {
			if doc, err := addressing.CanonicalContent(*req.Node.Content); err == nil {
				resp.CanonicalContent = string(doc)
			}
		}
		if doc, err := addressing.CanonicalStructure(*req.Node); err == nil {
			resp.CanonicalStructure = string(doc)
		}
	}
	if req.Edge != nil {
		resp.EdgeHash = addressing.EdgeHash(*req.Edge, resp.Algorithm)
		if doc, err := addressing.CanonicalEdge(*req.Edge); err == nil {
			resp.CanonicalEdge = string(doc)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
