package execution

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when no execution row exists for a job ID
	ErrNotFound = errors.New("job execution not found")

	// ErrDuplicateJob is returned when an execution row already exists for a job ID
	ErrDuplicateJob = errors.New("job execution already exists")
)

const uniqueViolation = "23505"

// isUniqueViolation recognises unique constraint errors from both supported drivers
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}

	return false
}
