package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/cuongbtq/saas-jobs/internal/metrics"
	"github.com/cuongbtq/saas-jobs/internal/queue"
	"github.com/google/uuid"
)

var (
	// ErrUnknownJobType is returned when enqueue is called for a type with no registry entry
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrInvalidJob is returned for payloads or options that cannot be enqueued
	ErrInvalidJob = errors.New("invalid job")

	// ErrPublishFailed is returned when the row was written but the queue rejected the message
	ErrPublishFailed = errors.New("failed to publish job")
)

// Publisher hands a job message to the durable queue
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Config wires the dispatcher's collaborators
type Config struct {
	Registry  *jobs.Registry
	Store     execution.Store
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   *metrics.Metrics

	// Now and NewID are overridable for tests
	Now   func() time.Time
	NewID func() string
}

// Dispatcher is the enqueue side of the job pipeline
type Dispatcher struct {
	registry  *jobs.Registry
	store     execution.Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

// New creates a new Dispatcher
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("execution store is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	d := &Dispatcher{
		registry:  cfg.Registry,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
		newID:     cfg.NewID,
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.metrics == nil {
		d.metrics = metrics.New()
	}
	if d.now == nil {
		d.now = func() time.Time { return time.Now().UTC() }
	}
	if d.newID == nil {
		d.newID = func() string { return uuid.New().String() }
	}
	return d, nil
}

type options struct {
	idempotencyKey string
	delay          time.Duration
	retries        *int
	userID         string
	organizationID string
}

// Option customizes a single Enqueue call
type Option func(*options)

// WithIdempotencyKey uses key as the jobId and queue dedup key
func WithIdempotencyKey(key string) Option {
	return func(o *options) { o.idempotencyKey = key }
}

// WithDelay postpones the first delivery
func WithDelay(d time.Duration) Option {
	return func(o *options) { o.delay = d }
}

// WithRetries overrides the job type's retry budget
func WithRetries(n int) Option {
	return func(o *options) { o.retries = &n }
}

// WithUserID attributes the job to a user
func WithUserID(id string) Option {
	return func(o *options) { o.userID = id }
}

// WithOrganizationID attributes the job to an organization
func WithOrganizationID(id string) Option {
	return func(o *options) { o.organizationID = id }
}

// Enqueue records a pending execution and publishes the job. It returns the jobId.
//
// The row is written before the publish. A publish failure is returned to the
// caller and leaves the row pending. Enqueueing an idempotency key whose row is
// still pending publishes the stored job again under the same jobId; once the
// row has been delivered the call returns the jobId without publishing.
func (d *Dispatcher) Enqueue(ctx context.Context, jobType jobs.Type, payload any, opts ...Option) (string, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := d.registry.GetConfig(jobType)
	if err != nil {
		d.metrics.JobsEnqueued.WithLabelValues(jobType.String(), metrics.OutcomeFailed).Inc()
		return "", fmt.Errorf("%w: %w", ErrUnknownJobType, err)
	}

	if o.retries != nil && *o.retries < 0 {
		return "", fmt.Errorf("%w: retries must be non-negative, got %d", ErrInvalidJob, *o.retries)
	}
	if o.delay < 0 {
		return "", fmt.Errorf("%w: delay must be non-negative, got %s", ErrInvalidJob, o.delay)
	}

	rawPayload, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode payload: %w", ErrInvalidJob, err)
	}

	jobID := o.idempotencyKey
	if jobID == "" {
		jobID = d.newID()
	}

	exec := &execution.Execution{
		JobID:          jobID,
		JobType:        jobType.String(),
		Status:         execution.StatusPending,
		Payload:        rawPayload,
		UserID:         optional(o.userID),
		OrganizationID: optional(o.organizationID),
		CreatedAt:      d.now(),
	}

	if err := d.store.Create(ctx, exec); err != nil {
		if !errors.Is(err, execution.ErrDuplicateJob) {
			d.metrics.JobsEnqueued.WithLabelValues(jobType.String(), metrics.OutcomeFailed).Inc()
			return "", fmt.Errorf("failed to record job execution: %w", err)
		}

		existing, err := d.store.GetByJobID(ctx, jobID)
		if err != nil {
			d.metrics.JobsEnqueued.WithLabelValues(jobType.String(), metrics.OutcomeFailed).Inc()
			return "", fmt.Errorf("failed to load existing job execution %s: %w", jobID, err)
		}
		if existing.JobType != jobType.String() {
			d.metrics.JobsEnqueued.WithLabelValues(jobType.String(), metrics.OutcomeFailed).Inc()
			return "", fmt.Errorf("%w: idempotency key %q already used by a %s job", ErrInvalidJob, jobID, existing.JobType)
		}
		if existing.Status != execution.StatusPending {
			d.logger.Info("Job already delivered, skipping publish",
				slog.String("job_id", jobID),
				slog.String("job_type", jobType.String()),
				slog.String("status", string(existing.Status)),
			)
			d.metrics.JobsEnqueued.WithLabelValues(jobType.String(), metrics.OutcomeDuplicate).Inc()
			return jobID, nil
		}

		// A pending row may be left over from a failed publish
		d.logger.Warn("Job still pending, publishing again",
			slog.String("job_id", jobID),
			slog.String("job_type", jobType.String()),
		)
		exec = existing
	}

	body, err := json.Marshal(envelopeFor(exec))
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}

	retries := cfg.Retries
	if o.retries != nil {
		retries = *o.retries
	}

	msg := queue.Message{
		JobID:           jobID,
		JobType:         jobType.String(),
		Endpoint:        cfg.Endpoint,
		Body:            body,
		MaxRetries:      retries,
		TimeoutSeconds:  cfg.TimeoutSeconds,
		Delay:           o.delay,
		DeduplicationID: jobID,
	}

	if err := d.publisher.Publish(ctx, msg); err != nil {
		d.logger.Error("Failed to publish job, execution row left pending",
			slog.String("job_id", jobID),
			slog.String("job_type", jobType.String()),
			slog.String("error", err.Error()),
		)
		d.metrics.JobsEnqueued.WithLabelValues(jobType.String(), metrics.OutcomeFailed).Inc()
		return "", fmt.Errorf("%w %s: %w", ErrPublishFailed, jobID, err)
	}

	d.logger.Info("Job enqueued",
		slog.String("job_id", jobID),
		slog.String("job_type", jobType.String()),
		slog.String("endpoint", cfg.Endpoint),
		slog.Int("retries", retries),
		slog.Duration("delay", o.delay),
	)
	d.metrics.JobsEnqueued.WithLabelValues(jobType.String(), metrics.OutcomeEnqueued).Inc()

	return jobID, nil
}

// envelopeFor builds the queue envelope from the stored row so a republish
// carries the payload and metadata of the original enqueue
func envelopeFor(e *execution.Execution) jobs.Envelope {
	env := jobs.Envelope{
		JobID:   e.JobID,
		Type:    jobs.Type(e.JobType),
		Payload: e.Payload,
		Metadata: jobs.Metadata{
			CreatedAt: e.CreatedAt,
		},
	}
	if e.UserID != nil {
		env.Metadata.UserID = *e.UserID
	}
	if e.OrganizationID != nil {
		env.Metadata.OrganizationID = *e.OrganizationID
	}
	return env
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
