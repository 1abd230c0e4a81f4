package execution

import "context"

// Store persists job execution rows
type Store interface {
	// Create inserts a pending row. It returns ErrDuplicateJob when the job ID is taken.
	Create(ctx context.Context, e *Execution) error

	// GetByJobID returns ErrNotFound when no row exists
	GetByJobID(ctx context.Context, jobID string) (*Execution, error)

	// Update applies a transition by job ID. It returns ErrNotFound when no row exists.
	Update(ctx context.Context, jobID string, u Update) error

	// List returns up to PageSize+1 rows so callers can detect another page
	List(ctx context.Context, filter Filter) ([]Execution, error)
}
