package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cuongbtq/fiscal-bridge/internal/queue/domain"
	"github.com/cuongbtq/fiscal-bridge/internal/queue/dto"
	"github.com/gin-gonic/gin"
)

const (
	defaultRecentLimit  = 50
	maxRecentLimit      = 500
	defaultStatsHours   = 24
	defaultCleanupDays  = 30
	eventJobCompleted   = "print_job.completed"
	eventJobFailed      = "print_job.failed"
	eventPublishTimeout = 5 * time.Second
)

// Enqueue handles POST /api/v1/print-jobs
func (h *JobHandler) Enqueue(c *gin.Context) {
	var req dto.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	job, err := h.store.Enqueue(c.Request.Context(), domain.EnqueueParams{
		Type:         domain.JobType(req.Type),
		Payload:      req.Payload,
		DeviceID:     req.DeviceID,
		UserID:       req.UserID,
		FiscalSaleID: req.FiscalSaleID,
		Priority:     req.Priority,
	})
	if err != nil {
		h.respondError(c, "Failed to enqueue print job", err)
		return
	}

	c.JSON(http.StatusCreated, dto.EnqueueResponse{
		ID:        job.ID,
		Type:      job.Type,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

// Claim handles POST /api/v1/print-jobs/claim. The configured company header
// is merged into the payload when the job does not carry one.
func (h *JobHandler) Claim(c *gin.Context) {
	var req dto.ClaimRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.logger.Error("Invalid request body", slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}

	job, err := h.store.Claim(c.Request.Context(), req.AgentID)
	if err != nil {
		h.respondError(c, "Failed to claim print job", err)
		return
	}

	if job != nil && !h.header.IsZero() {
		merged, err := domain.MergeHeader(job.Payload, h.header)
		if err != nil {
			h.logger.Warn("Failed to attach company header",
				slog.Int64("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else {
			job.Payload = merged
		}
	}

	c.JSON(http.StatusOK, dto.ClaimResponse{Job: job})
}

// ResetStuck handles POST /api/v1/print-jobs/reset-stuck?threshold=seconds
func (h *JobHandler) ResetStuck(c *gin.Context) {
	var req dto.ResetStuckRequest
	if err := c.ShouldBindQuery(&req); err != nil || (req.Threshold != nil && *req.Threshold <= 0) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "threshold must be a positive number of seconds",
		})
		return
	}

	threshold := domain.DefaultStuckThreshold
	if req.Threshold != nil {
		threshold = time.Duration(*req.Threshold) * time.Second
	}

	jobs, err := h.store.ResetStuck(c.Request.Context(), threshold)
	if err != nil {
		h.respondError(c, "Failed to reset stuck print jobs", err)
		return
	}

	c.JSON(http.StatusOK, dto.ResetStuckResponse{Reset: jobs})
}

// Complete handles PUT /api/v1/print-jobs/complete/:id
func (h *JobHandler) Complete(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	job, transitioned, err := h.store.MarkComplete(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to complete print job", err)
		return
	}

	// Repeated reports of a finished job announce nothing
	if transitioned {
		h.publish(c.Request.Context(), eventJobCompleted, job)
	}

	c.JSON(http.StatusOK, job)
}

// Fail handles PUT /api/v1/print-jobs/fail/:id
func (h *JobHandler) Fail(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	var req dto.FailRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}
	}
	if req.Error == "" {
		req.Error = "unknown error"
	}

	job, transitioned, err := h.store.MarkFailed(c.Request.Context(), id, req.Error)
	if err != nil {
		h.respondError(c, "Failed to fail print job", err)
		return
	}

	if transitioned {
		h.publish(c.Request.Context(), eventJobFailed, job)
	}

	c.JSON(http.StatusOK, job)
}

// Heartbeat handles PUT /api/v1/print-jobs/heartbeat/:id
func (h *JobHandler) Heartbeat(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.store.Heartbeat(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to update print job heartbeat", err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// Status handles GET /api/v1/print-jobs/status/:id
func (h *JobHandler) Status(c *gin.Context) {
	id, ok := h.jobID(c)
	if !ok {
		return
	}

	job, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, "Failed to get print job", err)
		return
	}

	c.JSON(http.StatusOK, job)
}

// Recent handles GET /api/v1/print-jobs/recent
func (h *JobHandler) Recent(c *gin.Context) {
	var req dto.RecentRequest
	if err := c.ShouldBindQuery(&req); err != nil || req.Limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit must be a positive number",
		})
		return
	}

	if req.Limit == 0 {
		req.Limit = defaultRecentLimit
	}
	if req.Limit > maxRecentLimit {
		req.Limit = maxRecentLimit
	}

	jobs, err := h.store.Recent(c.Request.Context(), req.Limit)
	if err != nil {
		h.respondError(c, "Failed to list print jobs", err)
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobs})
}

// Pending handles GET /api/v1/print-jobs/pending
func (h *JobHandler) Pending(c *gin.Context) {
	jobs, err := h.store.Pending(c.Request.Context())
	if err != nil {
		h.respondError(c, "Failed to list pending print jobs", err)
		return
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{Jobs: jobs})
}

// Stats handles GET /api/v1/print-jobs/stats?hours=N
func (h *JobHandler) Stats(c *gin.Context) {
	var req dto.StatsRequest
	if err := c.ShouldBindQuery(&req); err != nil || (req.Hours != nil && *req.Hours <= 0) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "hours must be a positive number",
		})
		return
	}

	hours := defaultStatsHours
	if req.Hours != nil {
		hours = *req.Hours
	}

	stats, err := h.store.Stats(c.Request.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		h.respondError(c, "Failed to get print job stats", err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// Header handles GET /api/v1/print-jobs/header
func (h *JobHandler) Header(c *gin.Context) {
	header := h.header
	if header == nil {
		header = &domain.CompanyHeaderSnapshot{}
	}
	c.JSON(http.StatusOK, header)
}

// Cleanup handles DELETE /api/v1/print-jobs/cleanup?days=N
func (h *JobHandler) Cleanup(c *gin.Context) {
	var req dto.CleanupRequest
	if err := c.ShouldBindQuery(&req); err != nil || (req.Days != nil && *req.Days < 0) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "days must be zero or a positive number",
		})
		return
	}

	days := defaultCleanupDays
	if req.Days != nil {
		days = *req.Days
	}

	deleted, err := h.store.Cleanup(c.Request.Context(), days)
	if err != nil {
		h.respondError(c, "Failed to clean up print jobs", err)
		return
	}

	c.JSON(http.StatusOK, dto.CleanupResponse{Deleted: deleted})
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("Health check failed", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "print-queue-service",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "print-queue-service",
	})
}

func (h *JobHandler) jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id must be a positive integer",
		})
		return 0, false
	}
	return id, true
}

func (h *JobHandler) respondError(c *gin.Context, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
	case domain.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
	default:
		h.logger.Error(message, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": message,
		})
	}
}

// publish announces a terminal job transition. Broker failures never fail
// the request.
func (h *JobHandler) publish(ctx context.Context, event string, job *domain.Job) {
	if h.publisher == nil {
		return
	}

	body, err := json.Marshal(dto.JobEvent{
		Event:      event,
		Job:        job,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("Failed to encode job event", slog.String("error", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventPublishTimeout)
	defer cancel()

	if err := h.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		h.logger.Warn("Failed to publish job event",
			slog.String("event", event),
			slog.Int64("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}
