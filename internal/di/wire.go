//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"codex-backend/internal/config"
	"codex-backend/internal/registry"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogging,
	ProvideLogger,
	ProvideCollector,
	ProvideTracerProvider,
	ProvideStorageBackend,
	ProvideEventPublisher,
	ProvideRegistry,
	wire.Bind(new(registry.Registry), new(*registry.PersistentRegistry)),
	ProvideMaintenance,
	ProvideHandler,
	ProvideRouter,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	wire.Build(SuperSet)
	return nil, nil // Wire will replace this
}
