package domain

import (
	"encoding/json"
	"time"
)

// JobType selects what the agent does with a job
type JobType string

const (
	JobTypeReceipt    JobType = "receipt"
	JobTypeStorno     JobType = "storno"
	JobTypeZReport    JobType = "zreport"
	JobTypeXReport    JobType = "xreport"
	JobTypeCash       JobType = "cash"
	JobTypeSetHeaders JobType = "setheaders"
)

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	switch t {
	case JobTypeReceipt, JobTypeStorno, JobTypeZReport, JobTypeXReport, JobTypeCash, JobTypeSetHeaders:
		return true
	}
	return false
}

// RequiresItems reports whether the payload must carry a non-empty item list
func (t JobType) RequiresItems() bool {
	return t == JobTypeReceipt || t == JobTypeStorno
}

// JobStatus is the lifecycle state of a print job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusPrinting  JobStatus = "printing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// DefaultPriority is used when a job is enqueued without one.
// Lower numbers are dispatched first.
const DefaultPriority = 10

// DefaultStuckThreshold is how long a job may stay in printing without a
// heartbeat before it is handed out again.
const DefaultStuckThreshold = 300 * time.Second

// Job is a persisted print job
type Job struct {
	ID           int64           `json:"id"`
	Type         JobType         `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	DeviceID     *string         `json:"device_id,omitempty"`
	UserID       *string         `json:"user_id,omitempty"`
	FiscalSaleID *int64          `json:"fiscal_sale_id,omitempty"`
	Priority     int             `json:"priority"`
	Status       JobStatus       `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	ClaimedAt    *time.Time      `json:"claimed_at,omitempty"`
	ClaimedBy    *string         `json:"claimed_by,omitempty"`
	ProcessedAt  *time.Time      `json:"processed_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// EnqueueParams describes a job to be queued. A nil Priority means
// DefaultPriority.
type EnqueueParams struct {
	Type         JobType
	Payload      json.RawMessage
	DeviceID     *string
	UserID       *string
	FiscalSaleID *int64
	Priority     *int
}

// Stats summarises the queue
type Stats struct {
	Pending   int64  `json:"pending" db:"pending"`
	Printing  int64  `json:"printing" db:"printing"`
	Completed int64  `json:"completed" db:"completed"`
	Failed    int64  `json:"failed" db:"failed"`
	Total     int64  `json:"total" db:"total"`
	Window    string `json:"window" db:"-"`
}
