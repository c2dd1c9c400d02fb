package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
)

type EnqueueRequest struct {
	Type         string          `json:"type" binding:"required"`
	Payload      json.RawMessage `json:"payload"`
	DeviceID     *string         `json:"device_id"`
	UserID       *string         `json:"user_id"`
	FiscalSaleID *int64          `json:"fiscal_sale_id"`
	Priority     *int            `json:"priority"`
}

type EnqueueResponse struct {
	ID        int64            `json:"id"`
	Type      domain.JobType   `json:"type"`
	Status    domain.JobStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

type ClaimRequest struct {
	AgentID string `json:"agent_id"`
}

type ClaimResponse struct {
	Job *domain.Job `json:"job"`
}

type FailRequest struct {
	Error string `json:"error"`
}

type ResetStuckRequest struct {
	Threshold *int `form:"threshold"`
}

type ResetStuckResponse struct {
	Reset []domain.Job `json:"reset"`
}

type RecentRequest struct {
	Limit int `form:"limit"`
}

type StatsRequest struct {
	Hours *int `form:"hours"`
}

type CleanupRequest struct {
	Days *int `form:"days"`
}

type CleanupResponse struct {
	Deleted int64 `json:"deleted"`
}

type ListJobsResponse struct {
	Jobs []domain.Job `json:"jobs"`
}

// JobEvent is published when a job reaches a terminal state
type JobEvent struct {
	Event      string      `json:"event"`
	Job        *domain.Job `json:"job"`
	OccurredAt time.Time   `json:"occurred_at"`
}
