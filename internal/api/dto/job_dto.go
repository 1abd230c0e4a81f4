package dto

import (
	"encoding/json"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
)

type CreateJobRequest struct {
	Type           string          `json:"type" binding:"required"`
	Payload        json.RawMessage `json:"payload"`
	UserID         string          `json:"userId"`
	OrganizationID string          `json:"organizationId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	DelaySeconds   int             `json:"delaySeconds" binding:"gte=0"`
	Retries        *int            `json:"retries" binding:"omitempty,gte=0"`
}

type CreateJobResponse struct {
	JobID string `json:"jobId"`
}

type ListJobsRequest struct {
	Status         string `form:"status"`
	JobType        string `form:"job_type"`
	UserID         string `form:"user_id"`
	OrganizationID string `form:"organization_id"`
	PageSize       int    `form:"page_size"`
	Cursor         string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID          string           `json:"job_id"`
	JobType        string           `json:"job_type"`
	Status         string           `json:"status"`
	Payload        json.RawMessage  `json:"payload"`
	Result         *json.RawMessage `json:"result,omitempty"`
	Error          *string          `json:"error,omitempty"`
	RetryCount     int              `json:"retry_count"`
	UserID         *string          `json:"user_id,omitempty"`
	OrganizationID *string          `json:"organization_id,omitempty"`
	StartedAt      *string          `json:"started_at,omitempty"`
	CompletedAt    *string          `json:"completed_at,omitempty"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
}

type JobTypeDTO struct {
	Type           string `json:"type"`
	Endpoint       string `json:"endpoint"`
	Retries        int    `json:"retries"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	Description    string `json:"description,omitempty"`
}

type ListJobTypesResponse struct {
	JobTypes []JobTypeDTO `json:"job_types"`
}

// FromExecution maps a stored row to its API representation
func FromExecution(e *execution.Execution) JobDTO {
	return JobDTO{
		JobID:          e.JobID,
		JobType:        e.JobType,
		Status:         string(e.Status),
		Payload:        e.Payload,
		Result:         e.Result,
		Error:          e.Error,
		RetryCount:     e.RetryCount,
		UserID:         e.UserID,
		OrganizationID: e.OrganizationID,
		StartedAt:      formatTime(e.StartedAt),
		CompletedAt:    formatTime(e.CompletedAt),
		CreatedAt:      e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      e.UpdatedAt.Format(time.RFC3339),
	}
}

func FromConfig(cfg jobs.Config) JobTypeDTO {
	return JobTypeDTO{
		Type:           cfg.Type.String(),
		Endpoint:       cfg.Endpoint,
		Retries:        cfg.Retries,
		TimeoutSeconds: cfg.TimeoutSeconds,
		Description:    cfg.Description,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
