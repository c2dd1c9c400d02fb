// Package agent runs the print agent loop: it claims jobs from the queue
// service and hands them to the executor one at a time.
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// Queue is the part of the queue service the agent loop needs
type Queue interface {
	ResetStuck(ctx context.Context, threshold time.Duration) ([]domain.Job, error)
	Claim(ctx context.Context) (*domain.Job, error)
	Heartbeat(ctx context.Context, id int64) error
}

// Executor runs a single job to completion
type Executor interface {
	Execute(ctx context.Context, job *domain.Job) error
}

// Config holds agent loop configuration
type Config struct {
	AgentID           string
	PollInterval      time.Duration
	ErrorBackoff      time.Duration
	StuckThreshold    time.Duration
	HeartbeatInterval time.Duration
}

// Agent polls the queue service for print jobs
type Agent struct {
	cfg      Config
	queue    Queue
	executor Executor
	logger   *slog.Logger
}

// New creates a new agent
func New(cfg Config, queue Queue, executor Executor, logger *slog.Logger) *Agent {
	if cfg.StuckThreshold <= 0 {
		cfg.StuckThreshold = domain.DefaultStuckThreshold
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = cfg.StuckThreshold / 3
	}
	return &Agent{
		cfg:      cfg,
		queue:    queue,
		executor: executor,
		logger:   logger.With(slog.String("agent_id", cfg.AgentID)),
	}
}

// Run polls until ctx is cancelled
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting print agent",
		slog.Duration("poll_interval", a.cfg.PollInterval),
		slog.Duration("error_backoff", a.cfg.ErrorBackoff),
		slog.Duration("stuck_threshold", a.cfg.StuckThreshold),
	)

	for {
		if ctx.Err() != nil {
			a.logger.Info("Print agent stopped")
			return nil
		}

		wait := a.poll(ctx)
		if wait <= 0 {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
}

// poll runs one iteration and returns how long to wait before the next one
func (a *Agent) poll(ctx context.Context) time.Duration {
	reset, err := a.queue.ResetStuck(ctx, a.cfg.StuckThreshold)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		a.logger.Error("Failed to reset stuck print jobs",
			slog.String("error", err.Error()),
		)
		return a.cfg.ErrorBackoff
	}
	for _, job := range reset {
		a.logger.Warn("Print job was stuck and has been requeued",
			slog.Int64("job_id", job.ID),
			slog.String("job_type", string(job.Type)),
		)
	}

	job, err := a.queue.Claim(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		a.logger.Error("Failed to claim print job",
			slog.String("error", err.Error()),
		)
		return a.cfg.ErrorBackoff
	}
	if job == nil {
		return a.cfg.PollInterval
	}

	a.logger.Info("Print job claimed",
		slog.Int64("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.Int("priority", job.Priority),
	)

	heartbeatDone := make(chan struct{})
	go a.sendJobHeartbeat(ctx, job.ID, heartbeatDone)
	defer close(heartbeatDone)

	if err := a.executor.Execute(ctx, job); err != nil {
		a.logger.Error("Print job not finished",
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	return 0
}

// sendJobHeartbeat keeps the claim fresh so a job that is still being
// retried is not handed to another agent
func (a *Agent) sendJobHeartbeat(ctx context.Context, jobID int64, done <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.queue.Heartbeat(ctx, jobID); err != nil {
				a.logger.Warn("Failed to update print job heartbeat",
					slog.Int64("job_id", jobID),
					slog.String("error", err.Error()),
				)
			} else {
				a.logger.Debug("Print job heartbeat updated",
					slog.Int64("job_id", jobID),
				)
			}
		}
	}
}
