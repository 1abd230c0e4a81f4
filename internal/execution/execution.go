package execution

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a job execution
type Status string

// Execution status values
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Execution is the tracking row for one logical job across all of its
// delivery attempts
type Execution struct {
	ID             int64            `db:"id"`
	JobID          string           `db:"job_id"`
	JobType        string           `db:"job_type"`
	Status         Status           `db:"status"`
	Payload        json.RawMessage  `db:"payload"`
	Result         *json.RawMessage `db:"result"`
	Error          *string          `db:"error"`
	RetryCount     int              `db:"retry_count"`
	UserID         *string          `db:"user_id"`
	OrganizationID *string          `db:"organization_id"`
	StartedAt      *time.Time       `db:"started_at"`
	CompletedAt    *time.Time       `db:"completed_at"`
	CreatedAt      time.Time        `db:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at"`
}

// Update describes a status transition. StartedAt only applies when the row
// has no start time yet; nil CompletedAt and Error leave the stored values untouched.
type Update struct {
	Status         Status
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Error          *string
	IncrementRetry bool
}

// Processing builds the update applied when a delivery arrives
func Processing(now time.Time) Update {
	return Update{
		Status:         StatusProcessing,
		StartedAt:      &now,
		IncrementRetry: true,
	}
}

// Completed builds the update applied when the handler succeeds
func Completed(now time.Time) Update {
	return Update{
		Status:      StatusCompleted,
		CompletedAt: &now,
	}
}

// Failed builds the update applied when the handler returns an error
func Failed(now time.Time, message string) Update {
	return Update{
		Status:      StatusFailed,
		CompletedAt: &now,
		Error:       &message,
	}
}

// Filter narrows a listing of executions
type Filter struct {
	JobType        string
	Status         Status
	UserID         string
	OrganizationID string
	PageSize       int
	Cursor         *Cursor
}

// Cursor is a keyset position in the (created_at, job_id) DESC ordering
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}

func (e *Execution) clone() *Execution {
	c := *e
	c.Payload = append(json.RawMessage(nil), e.Payload...)
	if e.Result != nil {
		r := append(json.RawMessage(nil), (*e.Result)...)
		c.Result = &r
	}
	if e.Error != nil {
		msg := *e.Error
		c.Error = &msg
	}
	if e.UserID != nil {
		v := *e.UserID
		c.UserID = &v
	}
	if e.OrganizationID != nil {
		v := *e.OrganizationID
		c.OrganizationID = &v
	}
	if e.StartedAt != nil {
		v := *e.StartedAt
		c.StartedAt = &v
	}
	if e.CompletedAt != nil {
		v := *e.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}
