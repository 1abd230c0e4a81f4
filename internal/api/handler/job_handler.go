package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/api/dto"
	"github.com/cuongbtq/saas-jobs/internal/dispatcher"
	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /api/v1/jobs
// Records a pending execution and publishes the job to the queue
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	var opts []dispatcher.Option
	if req.IdempotencyKey != "" {
		opts = append(opts, dispatcher.WithIdempotencyKey(req.IdempotencyKey))
	}
	if req.UserID != "" {
		opts = append(opts, dispatcher.WithUserID(req.UserID))
	}
	if req.OrganizationID != "" {
		opts = append(opts, dispatcher.WithOrganizationID(req.OrganizationID))
	}
	if req.DelaySeconds > 0 {
		opts = append(opts, dispatcher.WithDelay(time.Duration(req.DelaySeconds)*time.Second))
	}
	if req.Retries != nil {
		opts = append(opts, dispatcher.WithRetries(*req.Retries))
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	jobID, err := h.dispatcher.Enqueue(c.Request.Context(), jobs.Type(req.Type), payload, opts...)
	if err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrUnknownJobType), errors.Is(err, dispatcher.ErrInvalidJob):
			h.logger.Warn("Job rejected", slog.String("job_type", req.Type), slog.String("error", err.Error()))
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, dispatcher.ErrPublishFailed):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to publish job"})
		default:
			h.logger.Error("Failed to create job", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		}
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{JobID: jobID})
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves the execution row for a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id is required",
		})
		return
	}

	job, err := h.store.GetByJobID(c.Request.Context(), jobID)
	if errors.Is(err, execution.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Job not found",
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get job", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromExecution(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists executions newest first with keyset pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	status := execution.Status(req.Status)
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "status must be one of pending, processing, completed, failed",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}
	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := execution.Filter{
		JobType:        req.JobType,
		Status:         status,
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		PageSize:       req.PageSize,
		Cursor:         cursor,
	}

	rows, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// The store returns one extra row when another page exists
	hasMore := len(rows) > req.PageSize
	if hasMore {
		rows = rows[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(rows))}
	for i := range rows {
		resp.Jobs[i] = dto.FromExecution(&rows[i])
	}

	if hasMore {
		last := rows[len(rows)-1]
		resp.NextCursor = EncodeJobCursor(&execution.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobTypes handles GET /api/v1/job-types
func (h *JobHandler) ListJobTypes(c *gin.Context) {
	configs := h.registry.Configs()
	resp := dto.ListJobTypesResponse{JobTypes: make([]dto.JobTypeDTO, len(configs))}
	for i, cfg := range configs {
		resp.JobTypes[i] = dto.FromConfig(cfg)
	}
	c.JSON(http.StatusOK, resp)
}
