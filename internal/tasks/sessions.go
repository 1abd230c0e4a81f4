package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/jmoiron/sqlx"
)

// DefaultSessionMaxAgeHours is used when the payload does not set olderThanHours
const DefaultSessionMaxAgeHours = 24

// CleanupSessionsPayload is the cleanup-sessions job payload
type CleanupSessionsPayload struct {
	OlderThanHours int `json:"olderThanHours,omitempty"`
}

// SessionPurger deletes sessions that expired before a cutoff
type SessionPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// SQLSessionPurger deletes rows from the sessions table
type SQLSessionPurger struct {
	db *sqlx.DB
}

// NewSQLSessionPurger creates a new SQLSessionPurger
func NewSQLSessionPurger(db *sqlx.DB) *SQLSessionPurger {
	return &SQLSessionPurger{db: db}
}

func (p *SQLSessionPurger) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := p.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// NoopSessionPurger is used when no session store is configured
type NoopSessionPurger struct{}

func (NoopSessionPurger) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

// CleanupSessionsHandler runs cleanup-sessions jobs
type CleanupSessionsHandler struct {
	purger SessionPurger
	logger *slog.Logger
	now    func() time.Time
}

// NewCleanupSessionsHandler creates a new CleanupSessionsHandler
func NewCleanupSessionsHandler(purger SessionPurger, logger *slog.Logger) *CleanupSessionsHandler {
	return &CleanupSessionsHandler{
		purger: purger,
		logger: logger,
		now:    time.Now,
	}
}

func (h *CleanupSessionsHandler) Handle(ctx context.Context, payload CleanupSessionsPayload, job jobs.Envelope) error {
	hours := payload.OlderThanHours
	if hours < 0 {
		return fmt.Errorf("olderThanHours must be non-negative, got %d", hours)
	}
	if hours == 0 {
		hours = DefaultSessionMaxAgeHours
	}

	cutoff := h.now().Add(-time.Duration(hours) * time.Hour)
	deleted, err := h.purger.PurgeExpired(ctx, cutoff)
	if err != nil {
		return err
	}

	h.logger.Info("Expired sessions purged",
		slog.String("job_id", job.JobID),
		slog.Time("cutoff", cutoff),
		slog.Int64("deleted", deleted),
	)
	return nil
}
