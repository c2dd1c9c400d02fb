package submitter

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

// Business event kinds
const (
	EventSaleCompleted   = "sale.completed"
	EventSaleRefunded    = "sale.refunded"
	EventCashMovement    = "cash.movement"
	EventDayClosed       = "day.closed"
	EventReportRequested = "report.requested"
	EventCompanyUpdated  = "company.updated"
)

var (
	// ErrUnknownEvent is returned for event kinds the submitter does not handle
	ErrUnknownEvent = errors.New("unknown event")

	// ErrInvalidEvent is returned when an event body cannot be decoded
	ErrInvalidEvent = errors.New("invalid event")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// Event is a business event published by the point-of-sale backend
type Event struct {
	Kind string `json:"event"`
	Origin
	FiscalSaleID  *int64                        `json:"fiscal_sale_id,omitempty"`
	Items         []domain.Item                 `json:"items,omitempty"`
	PaymentMethod string                        `json:"payment_method,omitempty"`
	Action        string                        `json:"action,omitempty"`
	Amount        float64                       `json:"amount,omitempty"`
	Text          string                        `json:"text,omitempty"`
	Company       *domain.CompanyHeaderSnapshot `json:"company,omitempty"`
}

// Handle maps an event to the print job it requires. Store failures come
// back as *RetryableError; anything else means the event can never succeed.
func (s *Submitter) Handle(ctx context.Context, event Event) (*domain.Job, error) {
	var (
		job *domain.Job
		err error
	)

	switch event.Kind {
	case EventSaleCompleted, EventSaleRefunded:
		sale := Sale{
			Origin:        event.Origin,
			FiscalSaleID:  event.FiscalSaleID,
			Items:         event.Items,
			PaymentMethod: event.PaymentMethod,
		}
		if event.Kind == EventSaleRefunded {
			job, err = s.SubmitRefund(ctx, sale)
		} else {
			job, err = s.SubmitSale(ctx, sale)
		}
	case EventCashMovement:
		job, err = s.SubmitCashMovement(ctx, CashMovement{
			Origin: event.Origin,
			Action: event.Action,
			Amount: event.Amount,
			Text:   event.Text,
		})
	case EventDayClosed:
		job, err = s.SubmitDayClose(ctx, event.Origin)
	case EventReportRequested:
		job, err = s.SubmitXReport(ctx, event.Origin)
	case EventCompanyUpdated:
		job, err = s.SubmitHeaderChange(ctx, event.Company, event.Origin)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, event.Kind)
	}

	if err != nil {
		if domain.IsValidationError(err) {
			return nil, err
		}
		return nil, NewRetryableError(err)
	}
	return job, nil
}
