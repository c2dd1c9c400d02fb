// Package executor runs claimed print jobs against the fiscal printer.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/fiscal/conn"
	"github.com/cuongbtq/fiscal-bridge/internal/fiscal/protocol"
	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// finalReportTimeout bounds the last completion report sent after shutdown
// was requested.
const finalReportTimeout = 5 * time.Second

// Device is the printer session the executor drives
type Device interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, cmd protocol.Command) (protocol.Result, error)
	Drop(ctx context.Context)
	State() *conn.State
}

// Reporter reports job outcomes back to the queue service. Complete and Fail
// return an error matching domain.ErrJobNotFound when the queue no longer
// knows the job; such a report is never retried.
type Reporter interface {
	Complete(ctx context.Context, id int64) error
	Fail(ctx context.Context, id int64, message string) error
	Header(ctx context.Context) (*domain.CompanyHeaderSnapshot, error)
}

// Operator is one set of device operator credentials
type Operator struct {
	Number   int
	Password string
}

// Config holds executor settings
type Config struct {
	Operators     []Operator
	RetryDelay    time.Duration
	ZReportSettle time.Duration
}

// AuthError is returned when every configured operator was rejected
type AuthError struct {
	Tried int
	Last  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("all %d operator credentials rejected: %v", e.Tried, e.Last)
}

func (e *AuthError) Unwrap() error {
	return e.Last
}

// Executor runs one job at a time until it succeeds
type Executor struct {
	cfg      Config
	device   Device
	reporter Reporter
	logger   *slog.Logger
}

// New creates an executor
func New(cfg Config, device Device, reporter Reporter, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		device:   device,
		reporter: reporter,
		logger:   logger,
	}
}

type state int

const (
	stateConnect state = iota
	stateExecute
	stateBackoff
	stateReport
	stateDone
)

func (s state) String() string {
	switch s {
	case stateConnect:
		return "connect"
	case stateExecute:
		return "execute"
	case stateBackoff:
		return "backoff"
	case stateReport:
		return "report"
	case stateDone:
		return "done"
	}
	return "unknown"
}

// Execute runs the job until the device accepts it and the completion is
// reported. Device errors are retried without limit; only ctx cancellation
// stops the loop. A payload that cannot be decoded is marked failed.
func (e *Executor) Execute(ctx context.Context, job *domain.Job) error {
	log := e.logger.With(
		slog.Int64("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	payload, err := domain.DecodePayload(job.Type, job.Payload)
	if err != nil {
		log.Error("Print job has an unusable payload",
			slog.String("error", err.Error()),
		)
		return e.reportFailure(ctx, job.ID, err.Error(), log)
	}

	st := stateConnect
	attempt := 0
	var lastErr error

	for {
		if st != stateReport && st != stateDone && ctx.Err() != nil {
			log.Warn("Print job interrupted",
				slog.String("state", st.String()),
				slog.Int("attempt", attempt),
			)
			return fmt.Errorf("print job %d interrupted: %w", job.ID, ctx.Err())
		}

		switch st {
		case stateConnect:
			attempt++
			if err := e.device.Connect(ctx); err != nil {
				lastErr = err
				st = stateBackoff
				continue
			}
			st = stateExecute

		case stateExecute:
			if err := e.run(ctx, job.Type, payload, log); err != nil {
				lastErr = err
				st = stateBackoff
				continue
			}
			log.Info("Print job executed",
				slog.Int("attempt", attempt),
			)
			st = stateReport

		case stateBackoff:
			log.Error("Print job attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("retry_in", e.cfg.RetryDelay),
				slog.String("error", lastErr.Error()),
			)
			sleepErr := sleep(ctx, e.cfg.RetryDelay)
			e.device.Drop(context.WithoutCancel(ctx))
			if sleepErr != nil {
				continue
			}
			st = stateConnect

		case stateReport:
			if err := e.reportCompletion(ctx, job.ID, log); err != nil {
				return err
			}
			st = stateDone

		case stateDone:
			return nil
		}
	}
}

// reportCompletion retries the completion report without touching the
// device again. After cancellation one last bounded attempt is made.
func (e *Executor) reportCompletion(ctx context.Context, id int64, log *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalReportTimeout)
			defer cancel()
			err := e.reporter.Complete(finalCtx, id)
			if errors.Is(err, domain.ErrJobNotFound) {
				logJobGone(log, err)
				return nil
			}
			if err != nil {
				log.Error("Failed to report print job completion before shutdown",
					slog.String("error", err.Error()),
				)
				return fmt.Errorf("print job %d printed but not reported: %w", id, err)
			}
			log.Info("Print job completed")
			return nil
		}

		err := e.reporter.Complete(ctx, id)
		if err == nil {
			log.Info("Print job completed")
			return nil
		}
		if errors.Is(err, domain.ErrJobNotFound) {
			logJobGone(log, err)
			return nil
		}

		log.Error("Failed to report print job completion, retrying",
			slog.Duration("retry_in", e.cfg.RetryDelay),
			slog.String("error", err.Error()),
		)
		_ = sleep(ctx, e.cfg.RetryDelay)
	}
}

func (e *Executor) reportFailure(ctx context.Context, id int64, message string, log *slog.Logger) error {
	err := e.reporter.Fail(ctx, id, message)
	if errors.Is(err, domain.ErrJobNotFound) {
		logJobGone(log, err)
		return nil
	}
	if err != nil {
		log.Error("Failed to mark print job as failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to mark print job %d as failed: %w", id, err)
	}
	return nil
}

// logJobGone records a report the queue refused because the job was removed
func logJobGone(log *slog.Logger, err error) {
	log.Warn("Print job no longer exists on the queue, report dropped",
		slog.String("error", err.Error()),
	)
}

func (e *Executor) run(ctx context.Context, jobType domain.JobType, p *domain.Payload, log *slog.Logger) error {
	switch jobType {
	case domain.JobTypeReceipt:
		return e.printReceipt(ctx, p, false, log)
	case domain.JobTypeStorno:
		return e.printReceipt(ctx, p, true, log)
	case domain.JobTypeZReport:
		return e.printZReport(ctx, p, log)
	case domain.JobTypeXReport:
		return e.printXReport(ctx)
	case domain.JobTypeSetHeaders:
		header := e.resolveHeader(p)
		if header == nil {
			log.Warn("No company header available, nothing to program")
			return nil
		}
		return e.programHeaders(ctx, header, true, log)
	case domain.JobTypeCash:
		return e.cashMovement(ctx, p)
	}
	return fmt.Errorf("unsupported job type %q", jobType)
}

// withOperator sends the command built for each operator in order until one
// is accepted. Transport failures abort immediately.
func (e *Executor) withOperator(ctx context.Context, build func(op Operator) protocol.Command) (protocol.Result, error) {
	if len(e.cfg.Operators) == 0 {
		return nil, &AuthError{Last: errors.New("no operator credentials configured")}
	}

	var lastErr error
	for _, op := range e.cfg.Operators {
		res, err := e.device.Send(ctx, build(op))
		if err == nil {
			return res, nil
		}
		if !protocol.IsProtocolError(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, &AuthError{Tried: len(e.cfg.Operators), Last: lastErr}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
