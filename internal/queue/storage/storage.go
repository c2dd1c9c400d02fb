// Package storage persists print jobs in PostgreSQL or SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, type, payload, device_id, user_id, fiscal_sale_id, priority,
	status, created_at, claimed_at, claimed_by, processed_at, error_message`

// Storage handles all database operations for print jobs
type Storage struct {
	db     *sqlx.DB
	sqlite bool
	logger *slog.Logger
	clock  func() time.Time
}

// Option customises a Storage
type Option func(*Storage)

// WithClock replaces the wall clock used for job timestamps
func WithClock(clock func() time.Time) Option {
	return func(s *Storage) {
		s.clock = clock
	}
}

// NewStorage creates a new Storage instance. The SQL dialect follows the
// driver db was opened with.
func NewStorage(db *sqlx.DB, logger *slog.Logger, opts ...Option) *Storage {
	s := &Storage{
		db:     db,
		sqlite: db.DriverName() == "sqlite3",
		logger: logger,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

type jobRow struct {
	ID           int64      `db:"id"`
	Type         string     `db:"type"`
	Payload      string     `db:"payload"`
	DeviceID     *string    `db:"device_id"`
	UserID       *string    `db:"user_id"`
	FiscalSaleID *int64     `db:"fiscal_sale_id"`
	Priority     int        `db:"priority"`
	Status       string     `db:"status"`
	CreatedAt    time.Time  `db:"created_at"`
	ClaimedAt    *time.Time `db:"claimed_at"`
	ClaimedBy    *string    `db:"claimed_by"`
	ProcessedAt  *time.Time `db:"processed_at"`
	ErrorMessage *string    `db:"error_message"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		ID:           r.ID,
		Type:         domain.JobType(r.Type),
		Payload:      json.RawMessage(r.Payload),
		DeviceID:     r.DeviceID,
		UserID:       r.UserID,
		FiscalSaleID: r.FiscalSaleID,
		Priority:     r.Priority,
		Status:       domain.JobStatus(r.Status),
		CreatedAt:    r.CreatedAt.UTC(),
		ClaimedAt:    utcPtr(r.ClaimedAt),
		ClaimedBy:    r.ClaimedBy,
		ProcessedAt:  utcPtr(r.ProcessedAt),
		ErrorMessage: r.ErrorMessage,
	}
	if len(job.Payload) == 0 {
		job.Payload = json.RawMessage("{}")
	}
	return job
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// Enqueue validates and stores a new pending job
func (s *Storage) Enqueue(ctx context.Context, params domain.EnqueueParams) (*domain.Job, error) {
	if err := domain.ValidateEnqueue(params.Type, params.Payload); err != nil {
		return nil, err
	}
	payload, err := domain.NormalizePayload(params.Payload)
	if err != nil {
		return nil, err
	}

	priority := domain.DefaultPriority
	if params.Priority != nil {
		priority = *params.Priority
	}
	createdAt := s.now()

	query := s.db.Rebind(`
		INSERT INTO print_jobs (
			type, payload, device_id, user_id, fiscal_sale_id,
			priority, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id
	`)

	var id int64
	err = s.db.QueryRowxContext(ctx, query,
		string(params.Type),
		string(payload),
		params.DeviceID,
		params.UserID,
		params.FiscalSaleID,
		priority,
		string(domain.JobStatusPending),
		createdAt,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue print job: %w", err)
	}

	s.logger.Info("Print job enqueued",
		slog.Int64("job_id", id),
		slog.String("job_type", string(params.Type)),
		slog.Int("priority", priority),
	)

	return &domain.Job{
		ID:           id,
		Type:         params.Type,
		Payload:      payload,
		DeviceID:     params.DeviceID,
		UserID:       params.UserID,
		FiscalSaleID: params.FiscalSaleID,
		Priority:     priority,
		Status:       domain.JobStatusPending,
		CreatedAt:    createdAt,
	}, nil
}

// Claim atomically moves the next pending job to printing. It returns nil
// when nothing is pending.
func (s *Storage) Claim(ctx context.Context, agentID string) (*domain.Job, error) {
	lock := " FOR UPDATE SKIP LOCKED"
	if s.sqlite {
		lock = ""
	}

	query := s.db.Rebind(`
		UPDATE print_jobs
		SET status = ?, claimed_at = ?, claimed_by = ?
		WHERE id = (
			SELECT id FROM print_jobs
			WHERE status = ?
			ORDER BY priority ASC, created_at ASC, id ASC
			LIMIT 1` + lock + `
		)
		AND status = ?
		RETURNING id
	`)

	var claimedBy *string
	if agentID != "" {
		claimedBy = &agentID
	}

	var id int64
	err := s.db.QueryRowxContext(ctx, query,
		string(domain.JobStatusPrinting),
		s.now(),
		claimedBy,
		string(domain.JobStatusPending),
		string(domain.JobStatusPending),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim print job: %w", err)
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Print job claimed",
		slog.Int64("job_id", id),
		slog.String("job_type", string(job.Type)),
		slog.String("agent_id", agentID),
	)

	return job, nil
}

// ResetStuck returns jobs that have been printing for longer than threshold
// back to pending and lists them.
func (s *Storage) ResetStuck(ctx context.Context, threshold time.Duration) ([]domain.Job, error) {
	if threshold <= 0 {
		threshold = domain.DefaultStuckThreshold
	}
	cutoff := s.now().Add(-threshold)

	query := s.db.Rebind(`
		UPDATE print_jobs
		SET status = ?, claimed_at = NULL, claimed_by = NULL
		WHERE status = ? AND claimed_at < ?
		RETURNING id
	`)

	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, query,
		string(domain.JobStatusPending),
		string(domain.JobStatusPrinting),
		cutoff,
	); err != nil {
		return nil, fmt.Errorf("failed to reset stuck print jobs: %w", err)
	}

	if len(ids) == 0 {
		return []domain.Job{}, nil
	}

	jobs, err := s.getMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Stuck print jobs reset",
		slog.Int("count", len(jobs)),
		slog.Duration("threshold", threshold),
	)

	return jobs, nil
}

// Heartbeat refreshes claimed_at of a printing job
func (s *Storage) Heartbeat(ctx context.Context, id int64) (*domain.Job, error) {
	query := s.db.Rebind(`
		UPDATE print_jobs
		SET claimed_at = ?
		WHERE id = ? AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query, s.now(), id, string(domain.JobStatusPrinting))
	if err != nil {
		return nil, fmt.Errorf("failed to update print job heartbeat: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		s.logger.Warn("Print job heartbeat - no rows affected (job may not be printing)",
			slog.Int64("job_id", id),
		)
	}

	return s.Get(ctx, id)
}

// MarkComplete moves a printing job to completed. A job in any other state
// is returned unchanged and transitioned is false.
func (s *Storage) MarkComplete(ctx context.Context, id int64) (job *domain.Job, transitioned bool, err error) {
	return s.finish(ctx, id, domain.JobStatusCompleted, nil)
}

// MarkFailed moves a printing job to failed with message
func (s *Storage) MarkFailed(ctx context.Context, id int64, message string) (job *domain.Job, transitioned bool, err error) {
	return s.finish(ctx, id, domain.JobStatusFailed, &message)
}

func (s *Storage) finish(ctx context.Context, id int64, status domain.JobStatus, message *string) (*domain.Job, bool, error) {
	query := s.db.Rebind(`
		UPDATE print_jobs
		SET status = ?, processed_at = ?, error_message = ?
		WHERE id = ? AND status = ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		string(status),
		s.now(),
		message,
		id,
		string(domain.JobStatusPrinting),
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to mark print job %s: %w", status, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if rows == 0 {
		s.logger.Warn("Print job not printing, status left unchanged",
			slog.Int64("job_id", id),
			slog.String("status", string(job.Status)),
			slog.String("requested", string(status)),
		)
		return job, false, nil
	}

	s.logger.Info("Print job status updated",
		slog.Int64("job_id", id),
		slog.String("status", string(status)),
	)

	return job, true, nil
}

// Get returns a job by id
func (s *Storage) Get(ctx context.Context, id int64) (*domain.Job, error) {
	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`)

	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get print job: %w", err)
	}

	return row.toDomain(), nil
}

func (s *Storage) getMany(ctx context.Context, ids []int64) ([]domain.Job, error) {
	query, args, err := sqlx.In(`SELECT `+jobColumns+` FROM print_jobs WHERE id IN (?) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build job query: %w", err)
	}
	return s.selectJobs(ctx, s.db.Rebind(query), args...)
}

// Recent returns the most recently created jobs, newest first
func (s *Storage) Recent(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM print_jobs
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)
	return s.selectJobs(ctx, query, limit)
}

// Pending returns pending jobs in dispatch order
func (s *Storage) Pending(ctx context.Context) ([]domain.Job, error) {
	query := s.db.Rebind(`
		SELECT ` + jobColumns + `
		FROM print_jobs
		WHERE status = ?
		ORDER BY priority ASC, created_at ASC, id ASC
	`)
	return s.selectJobs(ctx, query, string(domain.JobStatusPending))
}

func (s *Storage) selectJobs(ctx context.Context, query string, args ...any) ([]domain.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list print jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, *rows[i].toDomain())
	}
	return jobs, nil
}

// Stats counts pending and printing jobs, plus jobs finished and created
// within window
func (s *Storage) Stats(ctx context.Context, window time.Duration) (*domain.Stats, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := s.now().Add(-window)

	query := s.db.Rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS printing,
			COALESCE(SUM(CASE WHEN status = ? AND processed_at >= ? THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = ? AND processed_at >= ? THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS total
		FROM print_jobs
	`)

	var stats domain.Stats
	if err := s.db.GetContext(ctx, &stats, query,
		string(domain.JobStatusPending),
		string(domain.JobStatusPrinting),
		string(domain.JobStatusCompleted), since,
		string(domain.JobStatusFailed), since,
		since,
	); err != nil {
		return nil, fmt.Errorf("failed to get print job stats: %w", err)
	}
	stats.Window = window.String()

	return &stats, nil
}

// Cleanup deletes completed and failed jobs processed more than daysOld
// days ago and returns how many were removed
func (s *Storage) Cleanup(ctx context.Context, daysOld int) (int64, error) {
	if daysOld < 0 {
		return 0, &domain.ValidationError{Field: "days", Reason: "must not be negative"}
	}
	cutoff := s.now().AddDate(0, 0, -daysOld)

	query := s.db.Rebind(`
		DELETE FROM print_jobs
		WHERE status IN (?, ?) AND processed_at < ?
	`)

	result, err := s.db.ExecContext(ctx, query,
		string(domain.JobStatusCompleted),
		string(domain.JobStatusFailed),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up print jobs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	s.logger.Info("Old print jobs cleaned up",
		slog.Int64("deleted", deleted),
		slog.Int("days_old", daysOld),
	)

	return deleted, nil
}

// Ping checks the database connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
