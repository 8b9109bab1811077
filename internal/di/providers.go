package di

import (
	"context"
	"fmt"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"

	"codex-backend/internal/config"
	"codex-backend/internal/infrastructure/messaging"
	"codex-backend/internal/infrastructure/observability"
	"codex-backend/internal/interfaces/http/rest"
	"codex-backend/internal/registry"
	"codex-backend/internal/storage"
)

// Logging pairs the service logger with its runtime-adjustable level.
type Logging struct {
	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// ProvideLogging builds the zap logger from configuration.
func ProvideLogging(cfg *config.Config) (*Logging, error) {
	logger, level, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("environment", string(cfg.Environment)))
	return &Logging{Logger: logger, Level: level}, nil
}

func ProvideLogger(l *Logging) *zap.Logger {
	return l.Logger
}

// ProvideCollector returns nil when metrics are disabled; every consumer
// accepts a nil collector.
func ProvideCollector(cfg *config.Config) *observability.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return observability.NewCollector(cfg.Metrics.Namespace)
}

func ProvideTracerProvider(ctx context.Context, cfg *config.Config) (*observability.TracerProvider, error) {
	tp, err := observability.InitTracing(ctx, cfg.Tracing, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	return tp, nil
}

// ProvideStorageBackend opens the configured provider and wraps it with
// metrics and, when enabled, tracing.
func ProvideStorageBackend(
	ctx context.Context,
	cfg *config.Config,
	collector *observability.Collector,
	tp *observability.TracerProvider,
	logger *zap.Logger,
) (storage.Backend, error) {
	backend, err := storage.Open(ctx, cfg.Storage, logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Provider, err)
	}

	backend = storage.WithMetrics(backend, collector, cfg.Storage.Provider)
	if cfg.Tracing.Enabled {
		backend = storage.WithTracing(backend, tp.Tracer())
	}
	return backend, nil
}

// ProvideEventPublisher returns nil when change events are disabled.
func ProvideEventPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (registry.EventPublisher, error) {
	if !cfg.Events.Enabled {
		return nil, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Storage.DynamoDB.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Storage.DynamoDB.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return messaging.NewEventBridgePublisher(
		eventbridge.NewFromConfig(awsCfg),
		cfg.Events.EventBusName,
		cfg.Events.Source,
		logger,
	), nil
}

func ProvideRegistry(
	backend storage.Backend,
	cfg *config.Config,
	publisher registry.EventPublisher,
	collector *observability.Collector,
	logger *zap.Logger,
) *registry.PersistentRegistry {
	return registry.NewPersistentRegistry(backend, registry.OptionsFromConfig(cfg, publisher, collector, logger))
}

func ProvideMaintenance(reg registry.Registry, cfg *config.Config, logger *zap.Logger) (*registry.Maintenance, error) {
	return registry.NewMaintenance(reg, cfg.Registry, logger)
}

func ProvideHandler(
	reg registry.Registry,
	cfg *config.Config,
	collector *observability.Collector,
	logger *zap.Logger,
) *rest.Handler {
	return rest.NewHandler(reg, cfg.Registry.HashAlgorithm, cfg.Server.MaxRequestSize, collector, logger)
}

func ProvideRouter(
	h *rest.Handler,
	cfg *config.Config,
	collector *observability.Collector,
	logger *zap.Logger,
) http.Handler {
	return rest.NewRouter(h, rest.RouterOptions{
		Server:      cfg.Server,
		MetricsPath: cfg.Metrics.Path,
		Collector:   collector,
		Logger:      logger,
	})
}
