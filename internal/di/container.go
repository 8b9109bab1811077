// Package di assembles the service from configuration.
package di

import (
	"context"
	"net/http"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"codex-backend/internal/config"
	"codex-backend/internal/infrastructure/observability"
	"codex-backend/internal/registry"
	"codex-backend/internal/storage"
)

// Container holds all application dependencies.
type Container struct {
	Config      *config.Config
	Logging     *Logging
	Logger      *zap.Logger
	Collector   *observability.Collector
	Tracer      *observability.TracerProvider
	Backend     storage.Backend
	Registry    registry.Registry
	Maintenance *registry.Maintenance
	Router      http.Handler
}

// Shutdown stops maintenance, drains pending durable writes, then closes
// storage and flushes traces. It keeps going past failures and returns them all.
func (c *Container) Shutdown(ctx context.Context) error {
	var err error
	if c.Maintenance != nil {
		err = multierr.Append(err, c.Maintenance.Stop(ctx))
	}
	if c.Registry != nil {
		err = multierr.Append(err, c.Registry.Flush(ctx))
		err = multierr.Append(err, c.Registry.Close(ctx))
	}
	if c.Backend != nil {
		err = multierr.Append(err, c.Backend.Close())
	}
	if c.Tracer != nil {
		err = multierr.Append(err, c.Tracer.Shutdown(ctx))
	}
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}
	return err
}
