// Package sweeper marks no-shows. All writes still go through the engine,
// so a swept appointment takes the same release, history and notification
// path as a manual markMissed.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/liwei-chiu/slotbook/internal/engine"
)

type Worker struct {
	engine    *engine.Engine
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

type Config struct {
	Interval  time.Duration
	BatchSize int
}

func NewWorker(eng *engine.Engine, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 1 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		engine:    eng,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := w.engine.SweepMissed(ctx, w.batchSize)
			if err != nil {
				w.logger.Error("missed sweep failed", "err", err)
				continue
			}
			if swept > 0 {
				w.logger.Info("missed sweep completed", "appointments", swept)
			}
		}
	}
}
