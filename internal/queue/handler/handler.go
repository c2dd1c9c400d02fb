package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// JobStore is the persistence the handlers need
type JobStore interface {
	Enqueue(ctx context.Context, params domain.EnqueueParams) (*domain.Job, error)
	Claim(ctx context.Context, agentID string) (*domain.Job, error)
	ResetStuck(ctx context.Context, threshold time.Duration) ([]domain.Job, error)
	Heartbeat(ctx context.Context, id int64) (*domain.Job, error)
	MarkComplete(ctx context.Context, id int64) (*domain.Job, bool, error)
	MarkFailed(ctx context.Context, id int64, message string) (*domain.Job, bool, error)
	Get(ctx context.Context, id int64) (*domain.Job, error)
	Recent(ctx context.Context, limit int) ([]domain.Job, error)
	Pending(ctx context.Context) ([]domain.Job, error)
	Stats(ctx context.Context, window time.Duration) (*domain.Stats, error)
	Cleanup(ctx context.Context, daysOld int) (int64, error)
	Ping(ctx context.Context) error
}

// Publisher sends job events to the message broker
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger    *slog.Logger
	Store     JobStore
	Publisher Publisher
	Header    *domain.CompanyHeaderSnapshot
}

// JobHandler handles print job HTTP requests
type JobHandler struct {
	logger    *slog.Logger
	store     JobStore
	publisher Publisher
	header    *domain.CompanyHeaderSnapshot
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		store:     deps.Store,
		publisher: deps.Publisher,
		header:    deps.Header,
	}
}
