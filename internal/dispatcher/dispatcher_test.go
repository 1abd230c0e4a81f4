package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/cuongbtq/saas-jobs/internal/metrics"
	"github.com/cuongbtq/saas-jobs/internal/queue"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages []queue.Message
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) published() []queue.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]queue.Message(nil), p.messages...)
}

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(t *testing.T, pub *recordingPublisher) (*Dispatcher, *execution.MemoryStore, *metrics.Metrics) {
	t.Helper()

	store := execution.NewMemoryStore()
	m := metrics.New()
	d, err := New(Config{
		Registry:  jobs.DefaultRegistry(),
		Store:     store,
		Publisher: pub,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   m,
		Now:       func() time.Time { return fixedNow },
		NewID:     func() string { return "generated-id" },
	})
	require.NoError(t, err)
	return d, store, m
}

func TestEnqueue_SendEmail(t *testing.T) {
	pub := &recordingPublisher{}
	d, store, m := newTestDispatcher(t, pub)

	payload := map[string]string{"to": "a@example.com", "template": "welcome"}
	jobID, err := d.Enqueue(context.Background(), jobs.TypeSendEmail, payload)
	require.NoError(t, err)
	assert.Equal(t, "generated-id", jobID)

	row, err := store.GetByJobID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, execution.StatusPending, row.Status)
	assert.Equal(t, 0, row.RetryCount)
	assert.Equal(t, "send-email", row.JobType)
	assert.JSONEq(t, `{"to":"a@example.com","template":"welcome"}`, string(row.Payload))

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "/api/jobs/email", msgs[0].Endpoint)
	assert.Equal(t, 3, msgs[0].MaxRetries)
	assert.Equal(t, 30, msgs[0].TimeoutSeconds)
	assert.Equal(t, jobID, msgs[0].DeduplicationID)
	assert.Zero(t, msgs[0].Delay)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsEnqueued.WithLabelValues("send-email", metrics.OutcomeEnqueued)))
}

func TestEnqueue_EnvelopeShape(t *testing.T) {
	pub := &recordingPublisher{}
	d, _, _ := newTestDispatcher(t, pub)

	_, err := d.Enqueue(context.Background(), jobs.TypeSendNotification,
		map[string]string{"title": "Hi"},
		WithUserID("user-1"),
		WithOrganizationID("org-1"),
	)
	require.NoError(t, err)

	msgs := pub.published()
	require.Len(t, msgs, 1)

	assert.JSONEq(t, `{
		"jobId": "generated-id",
		"type": "send-notification",
		"payload": {"title": "Hi"},
		"metadata": {
			"createdAt": "2026-06-01T12:00:00Z",
			"userId": "user-1",
			"organizationId": "org-1"
		}
	}`, string(msgs[0].Body))

	var env jobs.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Body, &env))
	assert.Equal(t, fixedNow, env.Metadata.CreatedAt)
}

func TestEnqueue_OmitsEmptyMetadata(t *testing.T) {
	pub := &recordingPublisher{}
	d, store, _ := newTestDispatcher(t, pub)

	_, err := d.Enqueue(context.Background(), jobs.TypeCleanupSessions, nil)
	require.NoError(t, err)

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{
		"jobId": "generated-id",
		"type": "cleanup-sessions",
		"payload": {},
		"metadata": {"createdAt": "2026-06-01T12:00:00Z"}
	}`, string(msgs[0].Body))

	row, err := store.GetByJobID(context.Background(), "generated-id")
	require.NoError(t, err)
	assert.Nil(t, row.UserID)
	assert.Nil(t, row.OrganizationID)
}

func TestEnqueue_Options(t *testing.T) {
	pub := &recordingPublisher{}
	d, _, _ := newTestDispatcher(t, pub)

	jobID, err := d.Enqueue(context.Background(), jobs.TypeProcessWebhook,
		json.RawMessage(`{"eventId":"evt_1"}`),
		WithIdempotencyKey("stripe:evt_1"),
		WithDelay(90*time.Second),
		WithRetries(0),
	)
	require.NoError(t, err)
	assert.Equal(t, "stripe:evt_1", jobID)

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "/api/jobs/webhook", msgs[0].Endpoint)
	assert.Equal(t, 0, msgs[0].MaxRetries)
	assert.Equal(t, 90*time.Second, msgs[0].Delay)
	assert.Equal(t, "stripe:evt_1", msgs[0].DeduplicationID)
}

func TestEnqueue_IdempotencyKeyReused(t *testing.T) {
	pub := &recordingPublisher{}
	d, store, m := newTestDispatcher(t, pub)
	ctx := context.Background()

	first, err := d.Enqueue(ctx, jobs.TypeSendEmail, map[string]string{"to": "a@example.com"}, WithIdempotencyKey("pw-change:user-1"))
	require.NoError(t, err)

	// The worker picked it up
	require.NoError(t, store.Update(ctx, first, execution.Processing(fixedNow)))

	second, err := d.Enqueue(ctx, jobs.TypeSendEmail, map[string]string{"to": "a@example.com"}, WithIdempotencyKey("pw-change:user-1"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Len())
	assert.Len(t, pub.published(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsEnqueued.WithLabelValues("send-email", metrics.OutcomeDuplicate)))
}

func TestEnqueue_IdempotencyKeyStillPendingPublishesAgain(t *testing.T) {
	pub := &recordingPublisher{}
	d, store, m := newTestDispatcher(t, pub)
	ctx := context.Background()

	_, err := d.Enqueue(ctx, jobs.TypeSendEmail, map[string]string{"to": "a@example.com"}, WithIdempotencyKey("welcome:user-2"))
	require.NoError(t, err)
	_, err = d.Enqueue(ctx, jobs.TypeSendEmail, map[string]string{"to": "a@example.com"}, WithIdempotencyKey("welcome:user-2"))
	require.NoError(t, err)

	msgs := pub.published()
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].DeduplicationID, msgs[1].DeduplicationID)
	assert.JSONEq(t, string(msgs[0].Body), string(msgs[1].Body))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsEnqueued.WithLabelValues("send-email", metrics.OutcomeEnqueued)))
}

func TestEnqueue_IdempotencyKeyUsedByOtherType(t *testing.T) {
	pub := &recordingPublisher{}
	d, _, _ := newTestDispatcher(t, pub)
	ctx := context.Background()

	_, err := d.Enqueue(ctx, jobs.TypeSendEmail, nil, WithIdempotencyKey("shared-key"))
	require.NoError(t, err)

	_, err = d.Enqueue(ctx, jobs.TypeSendNotification, nil, WithIdempotencyKey("shared-key"))
	require.ErrorIs(t, err, ErrInvalidJob)
	assert.Contains(t, err.Error(), "send-email")
	assert.Len(t, pub.published(), 1)
}

func TestEnqueue_UnknownType(t *testing.T) {
	pub := &recordingPublisher{}
	d, store, _ := newTestDispatcher(t, pub)

	_, err := d.Enqueue(context.Background(), jobs.Type("send-fax"), nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownJobType)
	assert.ErrorIs(t, err, jobs.ErrConfigNotFound)
	assert.Contains(t, err.Error(), "send-fax")
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, pub.published())
}

func TestEnqueue_PublishFailureLeavesRowPending(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	d, store, m := newTestDispatcher(t, pub)

	_, err := d.Enqueue(context.Background(), jobs.TypeSendEmail, map[string]string{"to": "a@example.com"})
	require.ErrorIs(t, err, ErrPublishFailed)
	assert.Contains(t, err.Error(), "broker unavailable")

	row, err := store.GetByJobID(context.Background(), "generated-id")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusPending, row.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsEnqueued.WithLabelValues("send-email", metrics.OutcomeFailed)))
}

func TestEnqueue_RetryAfterPublishFailure(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	d, store, _ := newTestDispatcher(t, pub)
	ctx := context.Background()
	payload := map[string]string{"provider": "stripe", "eventId": "evt_9", "eventType": "invoice.paid"}

	_, err := d.Enqueue(ctx, jobs.TypeProcessWebhook, payload, WithIdempotencyKey("stripe:evt_9"), WithUserID("user-9"))
	require.ErrorIs(t, err, ErrPublishFailed)

	pub.mu.Lock()
	pub.err = nil
	pub.mu.Unlock()

	id, err := d.Enqueue(ctx, jobs.TypeProcessWebhook, payload, WithIdempotencyKey("stripe:evt_9"), WithUserID("user-9"))
	require.NoError(t, err)
	assert.Equal(t, "stripe:evt_9", id)

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "/api/jobs/webhook", msgs[0].Endpoint)
	assert.Equal(t, "stripe:evt_9", msgs[0].DeduplicationID)

	var env jobs.Envelope
	require.NoError(t, json.Unmarshal(msgs[0].Body, &env))
	assert.Equal(t, "stripe:evt_9", env.JobID)
	assert.Equal(t, "user-9", env.Metadata.UserID)
	assert.JSONEq(t, `{"provider":"stripe","eventId":"evt_9","eventType":"invoice.paid"}`, string(env.Payload))

	row, err := store.GetByJobID(ctx, "stripe:evt_9")
	require.NoError(t, err)
	assert.Equal(t, execution.StatusPending, row.Status)
	assert.Equal(t, 1, store.Len())
}

func TestEnqueue_InvalidInput(t *testing.T) {
	pub := &recordingPublisher{}
	d, store, _ := newTestDispatcher(t, pub)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload any
		opts    []Option
	}{
		{name: "negative retries", payload: nil, opts: []Option{WithRetries(-1)}},
		{name: "negative delay", payload: nil, opts: []Option{WithDelay(-time.Second)}},
		{name: "invalid raw json", payload: json.RawMessage(`{not json`)},
		{name: "unencodable payload", payload: map[string]any{"ch": make(chan int)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Enqueue(ctx, jobs.TypeSendEmail, tt.payload, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidJob)
		})
	}
	assert.Equal(t, 0, store.Len())
	assert.Empty(t, pub.published())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{Store: execution.NewMemoryStore(), Publisher: &recordingPublisher{}})
	assert.Error(t, err)

	_, err = New(Config{Registry: jobs.DefaultRegistry(), Publisher: &recordingPublisher{}})
	assert.Error(t, err)

	_, err = New(Config{Registry: jobs.DefaultRegistry(), Store: execution.NewMemoryStore()})
	assert.Error(t, err)
}
