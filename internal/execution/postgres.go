package execution

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schema string

const executionColumns = `
	id, job_id, job_type, status, payload, result, error, retry_count,
	user_id, organization_id, started_at, completed_at, created_at, updated_at
`

// PostgresStore keeps execution rows in the job_executions table
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Migrate creates the job_executions table and its indexes if missing
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply job_executions schema: %w", err)
	}
	return nil
}

// Create inserts a new execution row
func (s *PostgresStore) Create(ctx context.Context, e *Execution) error {
	query := `
		INSERT INTO job_executions (
			job_id, job_type, status, payload, retry_count,
			user_id, organization_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $8
		)
		RETURNING id
	`

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	e.UpdatedAt = e.CreatedAt

	payload := string(e.Payload)
	if payload == "" {
		payload = "{}"
	}

	err := s.db.QueryRowxContext(
		ctx,
		query,
		e.JobID,
		e.JobType,
		string(e.Status),
		payload,
		e.RetryCount,
		e.UserID,
		e.OrganizationID,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job execution: %w", err)
	}

	s.logger.Debug("Job execution created",
		slog.String("job_id", e.JobID),
		slog.String("job_type", e.JobType),
		slog.Int64("id", e.ID),
	)

	return nil
}

// GetByJobID retrieves an execution row by its job ID
func (s *PostgresStore) GetByJobID(ctx context.Context, jobID string) (*Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE job_id = $1`

	var e Execution
	if err := s.db.GetContext(ctx, &e, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job execution: %w", err)
	}

	return &e, nil
}

// Update applies a status transition by job ID
func (s *PostgresStore) Update(ctx context.Context, jobID string, u Update) error {
	query := `
		UPDATE job_executions
		SET status = $2,
			started_at = COALESCE(started_at, $3),
			completed_at = COALESCE($4, completed_at),
			error = COALESCE($5, error),
			retry_count = retry_count + $6,
			updated_at = NOW()
		WHERE job_id = $1
	`

	increment := 0
	if u.IncrementRetry {
		increment = 1
	}

	result, err := s.db.ExecContext(ctx, query, jobID, string(u.Status), u.StartedAt, u.CompletedAt, u.Error, increment)
	if err != nil {
		return fmt.Errorf("failed to update job execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("Job execution updated",
		slog.String("job_id", jobID),
		slog.String("status", string(u.Status)),
	)

	return nil
}

// List returns executions matching the filter, newest first
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM job_executions WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.OrganizationID != "" {
		query += fmt.Sprintf(" AND organization_id = $%d", argIdx)
		args = append(args, filter.OrganizationID)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// One extra row tells the caller whether another page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var executions []Execution
	if err := s.db.SelectContext(ctx, &executions, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list job executions: %w", err)
	}

	return executions, nil
}
