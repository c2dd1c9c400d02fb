// Package submitter turns business events from the point-of-sale backend
// into queued print jobs.
package submitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// Job priorities. Lower numbers are printed first; day close and header
// changes wait for the sales already queued.
const (
	PriorityCash       = 5
	PriorityReceipt    = domain.DefaultPriority
	PriorityXReport    = domain.DefaultPriority
	PriorityZReport    = 20
	PrioritySetHeaders = 25
)

// Store enqueues print jobs
type Store interface {
	Enqueue(ctx context.Context, params domain.EnqueueParams) (*domain.Job, error)
}

// Origin identifies where an event came from
type Origin struct {
	DeviceID *string `json:"device_id,omitempty"`
	UserID   *string `json:"user_id,omitempty"`
}

// Sale is a completed or refunded sale
type Sale struct {
	Origin
	FiscalSaleID  *int64        `json:"fiscal_sale_id,omitempty"`
	Items         []domain.Item `json:"items"`
	PaymentMethod string        `json:"payment_method,omitempty"`
}

// CashMovement is money put into or taken out of the till
type CashMovement struct {
	Origin
	Action string  `json:"action"`
	Amount float64 `json:"amount"`
	Text   string  `json:"text,omitempty"`
}

// Submitter enqueues print jobs with the current company header attached
type Submitter struct {
	store  Store
	logger *slog.Logger

	mu     sync.RWMutex
	header *domain.CompanyHeaderSnapshot
}

// New creates a submitter. header may be nil.
func New(store Store, header *domain.CompanyHeaderSnapshot, logger *slog.Logger) *Submitter {
	return &Submitter{
		store:  store,
		logger: logger,
		header: header,
	}
}

// Header returns a copy of the current company header snapshot
func (s *Submitter) Header() *domain.CompanyHeaderSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.header == nil {
		return nil
	}
	h := *s.header
	return &h
}

// SubmitSale queues a fiscal receipt for a completed sale
func (s *Submitter) SubmitSale(ctx context.Context, sale Sale) (*domain.Job, error) {
	return s.submitSale(ctx, domain.JobTypeReceipt, sale)
}

// SubmitRefund queues a storno receipt for a refunded sale
func (s *Submitter) SubmitRefund(ctx context.Context, sale Sale) (*domain.Job, error) {
	return s.submitSale(ctx, domain.JobTypeStorno, sale)
}

func (s *Submitter) submitSale(ctx context.Context, jobType domain.JobType, sale Sale) (*domain.Job, error) {
	payload := domain.Payload{
		Items:         sale.Items,
		PaymentMethod: sale.PaymentMethod,
		Header:        s.Header(),
	}
	return s.enqueue(ctx, jobType, payload, sale.Origin, sale.FiscalSaleID, PriorityReceipt)
}

// SubmitCashMovement queues a cash in or cash out operation
func (s *Submitter) SubmitCashMovement(ctx context.Context, cash CashMovement) (*domain.Job, error) {
	payload := domain.Payload{
		Action: cash.Action,
		Amount: cash.Amount,
		Text:   cash.Text,
	}
	return s.enqueue(ctx, domain.JobTypeCash, payload, cash.Origin, nil, PriorityCash)
}

// SubmitDayClose queues the Z report that closes the fiscal day
func (s *Submitter) SubmitDayClose(ctx context.Context, origin Origin) (*domain.Job, error) {
	payload := domain.Payload{Header: s.Header()}
	return s.enqueue(ctx, domain.JobTypeZReport, payload, origin, nil, PriorityZReport)
}

// SubmitXReport queues an X report
func (s *Submitter) SubmitXReport(ctx context.Context, origin Origin) (*domain.Job, error) {
	return s.enqueue(ctx, domain.JobTypeXReport, domain.Payload{}, origin, nil, PriorityXReport)
}

// SubmitHeaderChange stores the new company header and queues a forced
// header reprogramming
func (s *Submitter) SubmitHeaderChange(ctx context.Context, header *domain.CompanyHeaderSnapshot, origin Origin) (*domain.Job, error) {
	if header.IsZero() {
		return nil, &domain.ValidationError{Field: "company", Reason: "header must not be empty"}
	}

	snapshot := *header
	s.mu.Lock()
	s.header = &snapshot
	s.mu.Unlock()

	s.logger.Info("Company header updated",
		slog.String("name", snapshot.Name),
	)

	payload := domain.Payload{Header: &snapshot}
	return s.enqueue(ctx, domain.JobTypeSetHeaders, payload, origin, nil, PrioritySetHeaders)
}

func (s *Submitter) enqueue(ctx context.Context, jobType domain.JobType, payload domain.Payload, origin Origin, saleID *int64, priority int) (*domain.Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", jobType, err)
	}

	// Reject what the agent could never print before it reaches the queue
	if _, err := domain.DecodePayload(jobType, raw); err != nil {
		return nil, err
	}

	job, err := s.store.Enqueue(ctx, domain.EnqueueParams{
		Type:         jobType,
		Payload:      raw,
		DeviceID:     origin.DeviceID,
		UserID:       origin.UserID,
		FiscalSaleID: saleID,
		Priority:     &priority,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit %s job: %w", jobType, err)
	}

	s.logger.Info("Print job submitted",
		slog.Int64("job_id", job.ID),
		slog.String("job_type", string(jobType)),
		slog.Int("priority", priority),
	)

	return job, nil
}
