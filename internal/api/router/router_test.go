package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/api/handler"
	"github.com/cuongbtq/saas-jobs/internal/dispatcher"
	"github.com/cuongbtq/saas-jobs/internal/execution"
	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/cuongbtq/saas-jobs/internal/metrics"
	"github.com/cuongbtq/saas-jobs/internal/queue"
	"github.com/cuongbtq/saas-jobs/internal/signature"
	"github.com/cuongbtq/saas-jobs/internal/tasks"
	"github.com/cuongbtq/saas-jobs/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	publicBaseURL = "https://jobs.example.com"
	signingKey    = "router-test-signing-key"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type capturePublisher struct {
	mu       sync.Mutex
	messages []queue.Message
}

func (p *capturePublisher) Publish(_ context.Context, msg queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

type fakeDatabase struct{ err error }

func (d fakeDatabase) HealthCheck(context.Context) error { return d.err }

type fakeBroker struct{ connected bool }

func (b fakeBroker) IsConnected() bool { return b.connected }

type testServer struct {
	engine    *gin.Engine
	store     *execution.MemoryStore
	publisher *capturePublisher
}

func newTestServer(t *testing.T, db handler.HealthChecker, broker handler.ConnectionChecker) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := jobs.DefaultRegistry()
	store := execution.NewMemoryStore()
	pub := &capturePublisher{}
	m := metrics.New()

	d, err := dispatcher.New(dispatcher.Config{
		Registry:  registry,
		Store:     store,
		Publisher: pub,
		Logger:    logger,
		Metrics:   m,
	})
	require.NoError(t, err)

	verifier, err := signature.NewVerifier(signingKey, "", "", time.Minute)
	require.NoError(t, err)

	w, err := worker.New(worker.Config{
		Store:         store,
		Verifier:      verifier,
		Logger:        logger,
		Metrics:       m,
		PublicBaseURL: publicBaseURL,
	})
	require.NoError(t, err)

	engine, err := SetupRouter(&handler.Dependencies{
		Logger:     logger,
		Dispatcher: d,
		Store:      store,
		Registry:   registry,
		Database:   db,
		Broker:     broker,
	}, Options{
		Worker:         w,
		Bindings:       tasks.Bindings(tasks.Dependencies{Logger: logger}),
		MetricsPath:    "/metrics",
		MetricsHandler: m.Handler(),
	})
	require.NoError(t, err)

	return &testServer{engine: engine, store: store, publisher: pub}
}

func (s *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         handler.HealthChecker
		broker     handler.ConnectionChecker
		wantStatus int
		wantBody   string
	}{
		{
			name:       "all up",
			db:         fakeDatabase{},
			broker:     fakeBroker{connected: true},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"healthy","service":"job-api-service","checks":{"database":"up","rabbitmq":"up"}}`,
		},
		{
			name:       "database down",
			db:         fakeDatabase{err: errors.New("timeout")},
			broker:     fakeBroker{connected: true},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unhealthy","service":"job-api-service","checks":{"database":"down","rabbitmq":"up"}}`,
		},
		{
			name:       "memory store without database",
			broker:     fakeBroker{connected: false},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"status":"unhealthy","service":"job-api-service","checks":{"rabbitmq":"down"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.db, tt.broker)

			rec := s.serve(httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil)

	body := bytes.NewBufferString(`{"type":"send-email","payload":{"to":"a@example.com","template":"welcome"}}`)
	rec := s.serve(httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = s.serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `jobs_enqueued_total{outcome="enqueued",type="send-email"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, nil, nil)

	rec := s.serve(httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), RequestIDHeader)
	assert.Equal(t, RequestIDHeader, rec.Header().Get("Access-Control-Expose-Headers"))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestWorkerEndpointsMounted(t *testing.T) {
	s := newTestServer(t, nil, nil)

	for _, cfg := range jobs.DefaultRegistry().Configs() {
		rec := s.serve(httptest.NewRequest(http.MethodPost, cfg.Endpoint, bytes.NewBufferString(`{}`)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, cfg.Endpoint)
	}
}

func TestSetupRouter_MountError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := execution.NewMemoryStore()
	verifier, err := signature.NewVerifier(signingKey, "", "", time.Minute)
	require.NoError(t, err)
	w, err := worker.New(worker.Config{Store: store, Verifier: verifier, Logger: logger})
	require.NoError(t, err)

	emailOnly, err := jobs.NewRegistry(jobs.Config{
		Type:           jobs.TypeSendEmail,
		Endpoint:       jobs.EndpointPrefix + "/email",
		Retries:        3,
		TimeoutSeconds: 30,
		Description:    "Send a transactional email",
	})
	require.NoError(t, err)

	_, err = SetupRouter(&handler.Dependencies{Logger: logger, Store: store, Registry: emailOnly}, Options{
		Worker:   w,
		Bindings: tasks.Bindings(tasks.Dependencies{Logger: logger}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to mount worker endpoints")
}

func TestEnqueueAndDeliver(t *testing.T) {
	s := newTestServer(t, nil, nil)

	body := bytes.NewBufferString(`{"type":"send-email","idempotencyKey":"welcome-user-7","userId":"user-7","payload":{"to":"user7@example.com","template":"welcome"}}`)
	rec := s.serve(httptest.NewRequest(http.MethodPost, "/api/v1/jobs", body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"jobId":"welcome-user-7"}`, rec.Body.String())

	require.Len(t, s.publisher.messages, 1)
	msg := s.publisher.messages[0]

	signer, err := signature.NewSigner(signingKey, "", time.Minute)
	require.NoError(t, err)
	token, err := signer.Sign(publicBaseURL+msg.Endpoint, msg.Body)
	require.NoError(t, err)

	push := httptest.NewRequest(http.MethodPost, msg.Endpoint, bytes.NewReader(msg.Body))
	push.Header.Set("Content-Type", "application/json")
	push.Header.Set(signature.Header, token)
	rec = s.serve(push)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = s.serve(httptest.NewRequest(http.MethodGet, "/api/v1/jobs/welcome-user-7", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var job map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "completed", job["status"])
	assert.Equal(t, float64(1), job["retry_count"])
	assert.Equal(t, "user-7", job["user_id"])
}
