package router

import (
	"fmt"
	"net/http"

	"github.com/cuongbtq/saas-jobs/internal/api/handler"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/cuongbtq/saas-jobs/internal/worker"
	"github.com/gin-gonic/gin"
)

// ServiceName is reported by the health endpoint
const ServiceName = "job-api-service"

// Options holds the optional parts of the router
type Options struct {
	// Worker and Bindings mount the push delivery endpoints. Both are optional.
	Worker   *worker.Worker
	Bindings []worker.Binding

	// MetricsPath and MetricsHandler expose Prometheus metrics when both are set
	MetricsPath    string
	MetricsHandler http.Handler
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) (*gin.Engine, error) {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(LoggerMiddleware(deps.Logger, "/health", opts.MetricsPath))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(ServiceName, deps)
	r.GET("/health", healthHandler.Health)

	if opts.MetricsHandler != nil && opts.MetricsPath != "" {
		r.GET(opts.MetricsPath, gin.WrapH(opts.MetricsHandler))
	}

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/job-types - List the registered job types
		v1.GET("/job-types", jobHandler.ListJobTypes)

		jobsGroup := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Enqueue a new job
			jobsGroup.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List jobs with filtering and pagination
			jobsGroup.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobsGroup.GET("/:job_id", jobHandler.GetJob)
		}
	}

	// Worker endpoints live under /api/jobs and are called by the relay only
	if opts.Worker != nil {
		if err := opts.Worker.Mount(r, deps.Registry, opts.Bindings...); err != nil {
			return nil, fmt.Errorf("failed to mount worker endpoints under %s: %w", jobs.EndpointPrefix, err)
		}
	}

	return r, nil
}
