// Package janitor periodically removes old terminal print jobs.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner deletes terminal jobs older than daysOld days
type Cleaner interface {
	Cleanup(ctx context.Context, daysOld int) (int64, error)
}

// Config holds janitor configuration
type Config struct {
	Interval      time.Duration
	RetentionDays int
}

// Janitor runs cleanup on a fixed interval
type Janitor struct {
	cfg     Config
	cleaner Cleaner
	logger  *slog.Logger
}

// New creates a janitor
func New(cfg Config, cleaner Cleaner, logger *slog.Logger) *Janitor {
	return &Janitor{
		cfg:     cfg,
		cleaner: cleaner,
		logger:  logger,
	}
}

// Run cleans up once immediately and then every interval until ctx is done
func (j *Janitor) Run(ctx context.Context) {
	if j.cfg.Interval <= 0 {
		j.logger.Info("Print job cleanup disabled")
		return
	}

	j.logger.Info("Starting print job cleanup",
		slog.Duration("interval", j.cfg.Interval),
		slog.Int("retention_days", j.cfg.RetentionDays),
	)

	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	for {
		j.runOnce(ctx)

		select {
		case <-ctx.Done():
			j.logger.Info("Print job cleanup stopped")
			return
		case <-ticker.C:
		}
	}
}

func (j *Janitor) runOnce(ctx context.Context) {
	deleted, err := j.cleaner.Cleanup(ctx, j.cfg.RetentionDays)
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Error("Failed to clean up print jobs",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if deleted > 0 {
		j.logger.Info("Removed old print jobs",
			slog.Int64("deleted", deleted),
		)
	}
}
