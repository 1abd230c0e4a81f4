package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels
const (
	OutcomeEnqueued  = "enqueued"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
	OutcomeCompleted = "completed"
	OutcomeRejected  = "rejected"
	OutcomeDelivered = "delivered"
	OutcomeRetried   = "retried"
	OutcomeDead      = "dead_lettered"
)

// Metrics holds the Prometheus instruments shared by the services
type Metrics struct {
	gatherer prometheus.Gatherer

	JobsEnqueued      *prometheus.CounterVec
	JobExecutions     *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	WorkerRejections  *prometheus.CounterVec
	TrackingFailures  *prometheus.CounterVec
	RelayDeliveries   *prometheus.CounterVec
	RelayPushDuration *prometheus.HistogramVec
}

// New registers all instruments on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg, reg)
}

// NewWithRegistry registers all instruments on reg
func NewWithRegistry(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: gatherer,

		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_enqueued_total",
			Help: "The total number of enqueue calls by outcome",
		}, []string{"type", "outcome"}), // outcome: enqueued, duplicate, failed

		JobExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "job_executions_total",
			Help: "The total number of worker invocations by outcome",
		}, []string{"type", "outcome"}), // outcome: completed, failed

		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of business handler execution.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"type"}),

		WorkerRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_rejections_total",
			Help: "Worker requests rejected before the handler ran",
		}, []string{"type", "reason"}),

		TrackingFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "job_tracking_failures_total",
			Help: "Execution row reads or writes that failed and were ignored",
		}, []string{"type", "operation"}),

		RelayDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_deliveries_total",
			Help: "Push deliveries by outcome",
		}, []string{"type", "outcome"}), // outcome: delivered, retried, dead_lettered

		RelayPushDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_push_duration_seconds",
			Help:    "Duration of push requests to worker endpoints.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"type"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveSince records the elapsed time since start on h
func ObserveSince(h *prometheus.HistogramVec, label string, start time.Time) {
	h.WithLabelValues(label).Observe(time.Since(start).Seconds())
}
