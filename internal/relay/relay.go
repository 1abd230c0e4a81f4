// Package relay delivers queued jobs to the worker endpoints.
//
// It consumes the main queue, signs each envelope for its target URL and
// POSTs it. A 2xx answer acknowledges the message. Any other answer
// republishes the job to the delay queue with exponential backoff until the
// job type's retry budget is spent, after which the job is dead-lettered.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/metrics"
	"github.com/cuongbtq/saas-jobs/internal/queue"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer is the subscribing half of the broker client
type Consumer interface {
	SetQos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Republisher puts retried and exhausted jobs back on the broker
type Republisher interface {
	Publish(ctx context.Context, msg queue.Message) error
	DeadLetter(ctx context.Context, msg queue.Message) error
}

// Signer signs a push request for its destination URL
type Signer interface {
	Sign(url string, body []byte) (string, error)
}

// Config holds relay configuration
type Config struct {
	Logger     *slog.Logger
	Consumer   Consumer
	Publisher  Republisher
	Signer     Signer
	Metrics    *metrics.Metrics
	HTTPClient *http.Client

	// TargetBaseURL is prefixed to each job's endpoint, e.g. https://app.example.com
	TargetBaseURL  string
	RelayID        string
	Concurrency    int
	PrefetchCount  int
	DefaultTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Relay consumes job messages and pushes them to worker endpoints
type Relay struct {
	logger         *slog.Logger
	consumer       Consumer
	publisher      Republisher
	signer         Signer
	metrics        *metrics.Metrics
	client         *http.Client
	targetBaseURL  string
	relayID        string
	concurrency    int
	prefetchCount  int
	defaultTimeout time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
	jobsChan       chan *job
	wg             sync.WaitGroup
	stopChan       chan struct{}
	stopOnce       sync.Once
}

// job is one consumed delivery with its decoded message
type job struct {
	msg      queue.Message
	delivery amqp.Delivery
}

// NewRelay creates a new relay instance
func NewRelay(cfg *Config) (*Relay, error) {
	if cfg.Consumer == nil || cfg.Publisher == nil || cfg.Signer == nil {
		return nil, fmt.Errorf("consumer, publisher and signer are required")
	}
	if cfg.TargetBaseURL == "" {
		return nil, fmt.Errorf("target base URL is required")
	}

	r := &Relay{
		logger:         cfg.Logger,
		consumer:       cfg.Consumer,
		publisher:      cfg.Publisher,
		signer:         cfg.Signer,
		metrics:        cfg.Metrics,
		client:         cfg.HTTPClient,
		targetBaseURL:  strings.TrimRight(cfg.TargetBaseURL, "/"),
		relayID:        cfg.RelayID,
		concurrency:    cfg.Concurrency,
		prefetchCount:  cfg.PrefetchCount,
		defaultTimeout: cfg.DefaultTimeout,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		stopChan:       make(chan struct{}),
	}

	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.client == nil {
		r.client = &http.Client{}
	}
	if r.relayID == "" {
		r.relayID = "relay-" + uuid.New().String()[:8]
	}
	if r.concurrency <= 0 {
		r.concurrency = 1
	}
	if r.prefetchCount <= 0 {
		r.prefetchCount = r.concurrency
	}
	if r.defaultTimeout <= 0 {
		r.defaultTimeout = 30 * time.Second
	}
	if r.initialBackoff <= 0 {
		r.initialBackoff = time.Second
	}
	if r.maxBackoff <= 0 {
		r.maxBackoff = 10 * time.Minute
	}
	r.jobsChan = make(chan *job, r.concurrency)

	return r, nil
}

// Start consumes the queue until ctx is canceled, Stop is called or the
// delivery channel closes. The last case is returned as an error.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("Starting relay",
		slog.String("relay_id", r.relayID),
		slog.Int("concurrency", r.concurrency),
		slog.Int("prefetch_count", r.prefetchCount),
		slog.String("target_base_url", r.targetBaseURL),
	)

	deliveries, err := r.setupConsumer()
	if err != nil {
		return err
	}

	r.spawnWorkerPool(ctx)

	return r.startMessageDispatcher(ctx, deliveries)
}

// Stop gracefully stops the relay and waits for in-flight pushes
func (r *Relay) Stop() {
	r.logger.Info("Stopping relay...")
	r.stopOnce.Do(func() { close(r.stopChan) })
	r.wg.Wait()
	r.logger.Info("Relay stopped")
}
