package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"codex-backend/internal/config"
	apperrors "codex-backend/internal/errors"
	"codex-backend/internal/infrastructure/observability"
)

const defaultMetricsPath = "/metrics"

// Route is one entry of the API route table.
type Route struct {
	Method  string
	Pattern string
	Name    string
	Handler http.HandlerFunc
}

// Routes returns the graph API route table.
func (h *Handler) Routes() []Route {
	return []Route{
		{http.MethodGet, "/health", "health", h.Health},

		{http.MethodGet, "/nodes", "list_nodes", h.ListNodes},
		{http.MethodPut, "/nodes", "put_node", h.PutNode},
		{http.MethodGet, "/nodes/{id}", "get_node", h.GetNode},
		{http.MethodPut, "/nodes/{id}", "put_node_by_id", h.PutNodeByID},
		{http.MethodDelete, "/nodes/{id}", "delete_node", h.DeleteNode},
		{http.MethodGet, "/nodes/{id}/edges/out", "outgoing_edges", h.OutgoingEdges},
		{http.MethodGet, "/nodes/{id}/edges/in", "incoming_edges", h.IncomingEdges},

		{http.MethodGet, "/edges", "list_edges", h.ListEdges},
		{http.MethodPut, "/edges", "put_edge", h.PutEdge},
		{http.MethodDelete, "/edges", "delete_edge", h.DeleteEdge},

		{http.MethodPost, "/content/refs", "create_content_ref", h.CreateContentRef},
		{http.MethodPost, "/content/verify", "verify_content", h.VerifyContent},
		{http.MethodPost, "/content/hash", "hash_entities", h.HashEntities},

		{http.MethodGet, "/storage/stats", "storage_stats", h.StorageStats},
		{http.MethodPost, "/storage/sync", "sync_storage", h.SyncStorage},
		{http.MethodGet, "/registry/stats", "registry_stats", h.RegistryStats},
	}
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	Server      config.Server
	MetricsPath string
	Collector   *observability.Collector
	Logger      *zap.Logger
}

// NewRouter mounts the handler's route table behind the standard middleware
// chain. The metrics endpoint is mounted only when a collector is given.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()

	router.Use(RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(Logger(logger))
	if opts.Collector != nil {
		router.Use(Metrics(opts.Collector))
	}

	if cfg := opts.Server.CORS; cfg.Enabled {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
			ExposedHeaders: []string{RequestIDHeader},
			MaxAge:         cfg.MaxAge,
		}))
	}

	for _, route := range h.Routes() {
		router.Method(route.Method, route.Pattern, route.Handler)
	}

	if opts.Collector != nil {
		path := opts.MetricsPath
		if path == "" {
			path = defaultMetricsPath
		}
		router.Method(http.MethodGet, path, opts.Collector.Handler())
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, ErrorBody{Error: ErrorDetail{
			Type:      string(apperrors.ErrorTypeNotFound),
			Message:   "route not found",
			RequestID: GetRequestID(r.Context()),
		}})
	})

	return router
}
