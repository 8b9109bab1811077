package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"codex-backend/internal/config"
	apperrors "codex-backend/internal/errors"
)

const resyncTimeout = 5 * time.Minute

// Maintenance runs edge compaction and the optional periodic resync on cron
// schedules.
type Maintenance struct {
	cron     *cron.Cron
	registry Registry
	logger   *zap.Logger
	jobs     int
}

// NewMaintenance schedules the jobs configured in cfg. An empty schedule
// leaves the corresponding job out.
func NewMaintenance(reg Registry, cfg config.Registry, logger *zap.Logger) (*Maintenance, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("maintenance")

	cl := cronLogger{logger: logger.Sugar()}
	m := &Maintenance{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		registry: reg,
		logger:   logger,
	}

	if cfg.Compaction.Schedule != "" {
		if _, err := m.cron.AddFunc(cfg.Compaction.Schedule, m.compact); err != nil {
			return nil, fmt.Errorf("invalid compaction schedule %q: %w", cfg.Compaction.Schedule, err)
		}
		m.jobs++
	}
	if cfg.ResyncSchedule != "" {
		if _, err := m.cron.AddFunc(cfg.ResyncSchedule, m.resync); err != nil {
			return nil, fmt.Errorf("invalid resync schedule %q: %w", cfg.ResyncSchedule, err)
		}
		m.jobs++
	}
	return m, nil
}

// Jobs returns the number of scheduled jobs.
func (m *Maintenance) Jobs() int {
	return m.jobs
}

// Start runs the scheduler in its own goroutine.
func (m *Maintenance) Start() {
	m.cron.Start()
	m.logger.Info("maintenance scheduler started", zap.Int("jobs", m.jobs))
}

// Stop halts the scheduler and waits for running jobs or ctx.
func (m *Maintenance) Stop(ctx context.Context) error {
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Maintenance) compact() {
	reclaimed, err := m.registry.Compact()
	if err != nil {
		m.logSkipped("compact", err)
		return
	}
	m.logger.Debug("scheduled compaction finished", zap.Int("reclaimed", reclaimed))
}

func (m *Maintenance) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	if err := m.registry.SyncWithStorage(ctx); err != nil {
		m.logSkipped("resync", err)
	}
}

func (m *Maintenance) logSkipped(job string, err error) {
	if apperrors.IsNotReady(err) {
		m.logger.Debug("maintenance job skipped, registry not ready", zap.String("job", job))
		return
	}
	m.logger.Error("maintenance job failed", zap.String("job", job), zap.Error(err))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
