package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/cuongbtq/saas-jobs/internal/metrics"
	"github.com/cuongbtq/saas-jobs/internal/signature"
	"github.com/gin-gonic/gin"
)

// ErrInvalidEnvelope is returned when a request body is not a usable job envelope
var ErrInvalidEnvelope = errors.New("invalid job payload")

// DefaultMaxBodyBytes caps a push request body when Config.MaxBodyBytes is unset
const DefaultMaxBodyBytes int64 = 1 << 20

// Rejection reasons
const (
	reasonMissingSignature = "missing_signature"
	reasonInvalidSignature = "invalid_signature"
	reasonInvalidEnvelope  = "invalid_envelope"
	reasonBodyTooLarge     = "body_too_large"
)

// Verifier checks a push signature against the raw body and request URL
type Verifier interface {
	Verify(token string, body []byte, url string) error
}

// Config holds worker configuration
type Config struct {
	Store    execution.Store
	Verifier Verifier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	// PublicBaseURL is the scheme and host the relay signs, e.g. https://app.example.com.
	// When empty the URL is rebuilt from the request.
	PublicBaseURL string

	// MaxBodyBytes limits the request body read before the signature check
	MaxBodyBytes int64

	Now func() time.Time
}

// Worker turns typed job handlers into HTTP endpoints for queue push delivery
type Worker struct {
	store         execution.Store
	verifier      Verifier
	logger        *slog.Logger
	metrics       *metrics.Metrics
	publicBaseURL string
	maxBodyBytes  int64
	now           func() time.Time
}

// New creates a new Worker
func New(cfg Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("signature verifier is required")
	}

	w := &Worker{
		store:         cfg.Store,
		verifier:      cfg.Verifier,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		maxBodyBytes:  cfg.MaxBodyBytes,
		now:           cfg.Now,
	}
	if w.maxBodyBytes <= 0 {
		w.maxBodyBytes = DefaultMaxBodyBytes
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.metrics == nil {
		w.metrics = metrics.New()
	}
	if w.now == nil {
		w.now = func() time.Time { return time.Now().UTC() }
	}
	return w, nil
}

// Mount registers a POST route for every binding at its job type's endpoint
func (w *Worker) Mount(routes gin.IRoutes, registry *jobs.Registry, bindings ...Binding) error {
	seen := make(map[jobs.Type]bool, len(bindings))
	for _, b := range bindings {
		if seen[b.JobType()] {
			return fmt.Errorf("duplicate handler for job type %q", b.JobType())
		}
		seen[b.JobType()] = true

		cfg, err := registry.GetConfig(b.JobType())
		if err != nil {
			return fmt.Errorf("failed to mount handler: %w", err)
		}

		routes.POST(cfg.Endpoint, w.Handle(b))
		w.logger.Info("Worker endpoint mounted",
			slog.String("job_type", cfg.Type.String()),
			slog.String("endpoint", cfg.Endpoint),
		)
	}
	return nil
}

// Handle returns the gin handler for a single binding.
//
// Signature and envelope failures are answered before the execution row is
// touched. Tracking writes are best effort and never change the response.
func (w *Worker) Handle(b Binding) gin.HandlerFunc {
	jobType := b.JobType().String()

	return func(c *gin.Context) {
		token := signatureHeader(c.Request)
		if token == "" {
			w.logger.Warn("Rejected job request without signature",
				slog.String("job_type", jobType),
				slog.String("path", c.Request.URL.Path),
				slog.String("remote_addr", c.ClientIP()),
			)
			w.metrics.WorkerRejections.WithLabelValues(jobType, reasonMissingSignature).Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing signature"})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, w.maxBodyBytes)
		body, err := c.GetRawData()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			w.logger.Warn("Rejected oversized job request",
				slog.String("job_type", jobType),
				slog.Int64("limit_bytes", tooLarge.Limit),
				slog.String("remote_addr", c.ClientIP()),
			)
			w.metrics.WorkerRejections.WithLabelValues(jobType, reasonBodyTooLarge).Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Job payload too large"})
			return
		}
		if err != nil {
			w.logger.Error("Failed to read job request body",
				slog.String("job_type", jobType),
				slog.String("error", err.Error()),
			)
			w.metrics.WorkerRejections.WithLabelValues(jobType, reasonInvalidEnvelope).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job payload"})
			return
		}

		if err := w.verifier.Verify(token, body, w.requestURL(c.Request)); err != nil {
			w.logger.Warn("Rejected job request with invalid signature",
				slog.String("job_type", jobType),
				slog.String("path", c.Request.URL.Path),
				slog.String("remote_addr", c.ClientIP()),
				slog.String("error", err.Error()),
			)
			w.metrics.WorkerRejections.WithLabelValues(jobType, reasonInvalidSignature).Inc()
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid signature"})
			return
		}

		env, run, err := w.parse(b, body)
		if err != nil {
			w.logger.Error("Rejected malformed job envelope",
				slog.String("job_type", jobType),
				slog.String("error", err.Error()),
				slog.String("body", string(body)),
			)
			w.metrics.WorkerRejections.WithLabelValues(jobType, reasonInvalidEnvelope).Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job payload"})
			return
		}

		ctx := c.Request.Context()
		logger := w.logger.With(
			slog.String("job_id", env.JobID),
			slog.String("job_type", jobType),
		)

		w.track(ctx, logger, env.JobID, jobType, "processing", execution.Processing(w.now()))

		logger.Info("Running job handler")
		start := time.Now()
		runErr := run(ctx)
		metrics.ObserveSince(w.metrics.JobDuration, jobType, start)

		if runErr != nil {
			logger.Error("Job handler failed",
				slog.String("error", runErr.Error()),
				slog.Duration("duration", time.Since(start)),
			)
			w.track(ctx, logger, env.JobID, jobType, "failed", execution.Failed(w.now(), runErr.Error()))
			w.metrics.JobExecutions.WithLabelValues(jobType, metrics.OutcomeFailed).Inc()
			c.JSON(http.StatusInternalServerError, gin.H{"error": runErr.Error()})
			return
		}

		logger.Info("Job handler completed",
			slog.Duration("duration", time.Since(start)),
		)
		w.track(ctx, logger, env.JobID, jobType, "completed", execution.Completed(w.now()))
		w.metrics.JobExecutions.WithLabelValues(jobType, metrics.OutcomeCompleted).Inc()
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func (w *Worker) parse(b Binding, body []byte) (jobs.Envelope, func(context.Context) error, error) {
	var env jobs.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return jobs.Envelope{}, nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.JobID == "" {
		return jobs.Envelope{}, nil, fmt.Errorf("%w: jobId is required", ErrInvalidEnvelope)
	}
	if env.Type != b.JobType() {
		return jobs.Envelope{}, nil, fmt.Errorf("%w: type %q delivered to %q endpoint", ErrInvalidEnvelope, env.Type, b.JobType())
	}

	run, err := b.prepare(env)
	if err != nil {
		return jobs.Envelope{}, nil, err
	}
	return env, run, nil
}

// track applies u to the execution row. Failures are logged and counted, never returned.
func (w *Worker) track(ctx context.Context, logger *slog.Logger, jobID, jobType, operation string, u execution.Update) {
	// The row must still be written when the queue hangs up on a slow handler
	ctx = context.WithoutCancel(ctx)

	err := w.store.Update(ctx, jobID, u)
	switch {
	case err == nil:
		return
	case errors.Is(err, execution.ErrNotFound):
		logger.Warn("Execution row not found, running job untracked",
			slog.String("operation", operation),
		)
	default:
		logger.Error("Failed to update execution row",
			slog.String("operation", operation),
			slog.String("error", err.Error()),
		)
	}
	w.metrics.TrackingFailures.WithLabelValues(jobType, operation).Inc()
}

func (w *Worker) requestURL(r *http.Request) string {
	if w.publicBaseURL != "" {
		return w.publicBaseURL + r.URL.Path
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// signatureHeader reads the signature under its canonical name, falling back
// to the lowercase key for header maps built without canonicalization
func signatureHeader(r *http.Request) string {
	if token := r.Header.Get(signature.Header); token != "" {
		return token
	}
	if values := r.Header[strings.ToLower(signature.Header)]; len(values) > 0 {
		return values[0]
	}
	return ""
}
