package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/saas-jobs/internal/dispatcher"
	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
)

// Enqueuer is implemented by dispatcher.Dispatcher
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType jobs.Type, payload any, opts ...dispatcher.Option) (string, error)
}

// HealthChecker is implemented by postgresql.Client
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ConnectionChecker is implemented by rabbitmq.Client
type ConnectionChecker interface {
	IsConnected() bool
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Dispatcher Enqueuer
	Store      execution.Store
	Registry   *jobs.Registry

	// Database is nil when executions are kept in memory
	Database HealthChecker
	Broker   ConnectionChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	dispatcher Enqueuer
	store      execution.Store
	registry   *jobs.Registry
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		store:      deps.Store,
		registry:   deps.Registry,
	}
}
