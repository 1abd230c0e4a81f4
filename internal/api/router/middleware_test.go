package router

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoggedEngine(output *bytes.Buffer) *gin.Engine {
	logger := slog.New(slog.NewJSONHandler(output, nil))

	r := gin.New()
	r.Use(RequestID(), LoggerMiddleware(logger, "/health", "/metrics"))
	r.GET("/health", func(c *gin.Context) {
		if c.Query("down") != "" {
			c.Status(http.StatusServiceUnavailable)
			return
		}
		c.Status(http.StatusOK)
	})
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/v1/jobs/:job_id", func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	})
	return r
}

func TestRequestID(t *testing.T) {
	r := newLoggedEngine(&bytes.Buffer{})

	t.Run("assigned when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
		assert.NoError(t, err)
	})

	t.Run("caller value echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	})

	t.Run("oversized value replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLength+1))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		_, err := uuid.Parse(rec.Header().Get(RequestIDHeader))
		assert.NoError(t, err)
	})
}

func TestLoggerMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantLog   bool
		wantLevel string
		wantRoute string
	}{
		{name: "healthy check is quiet", target: "/health"},
		{name: "metrics scrape is quiet", target: "/metrics"},
		{name: "failing health check is logged", target: "/health?down=1", wantLog: true, wantLevel: "ERROR", wantRoute: "/health"},
		{name: "client error", target: "/api/v1/jobs/job-1", wantLog: true, wantLevel: "WARN", wantRoute: "/api/v1/jobs/:job_id"},
		{name: "unmatched route", target: "/nope", wantLog: true, wantLevel: "WARN", wantRoute: "unmatched"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := &bytes.Buffer{}
			r := newLoggedEngine(output)

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			req.Header.Set(RequestIDHeader, "req-1")
			r.ServeHTTP(httptest.NewRecorder(), req)

			if !tt.wantLog {
				assert.Empty(t, output.String())
				return
			}

			var entry map[string]any
			require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
			assert.Equal(t, "HTTP Request", entry["msg"])
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, tt.wantRoute, entry["route"])
			assert.Equal(t, "req-1", entry["request_id"])
		})
	}
}

func TestLevelForStatus(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, levelForStatus(http.StatusAccepted))
	assert.Equal(t, slog.LevelWarn, levelForStatus(http.StatusRequestEntityTooLarge))
	assert.Equal(t, slog.LevelError, levelForStatus(http.StatusBadGateway))
}
