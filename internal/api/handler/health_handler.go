package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthHandler reports the state of the service's backing connections
type HealthHandler struct {
	service  string
	logger   *slog.Logger
	database HealthChecker
	broker   ConnectionChecker
}

func NewHealthHandler(service string, deps *Dependencies) *HealthHandler {
	return &HealthHandler{
		service:  service,
		logger:   deps.Logger,
		database: deps.Database,
		broker:   deps.Broker,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	checks := gin.H{}
	healthy := true

	if h.database != nil {
		if err := h.database.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("Database health check failed", slog.String("error", err.Error()))
			checks["database"] = "down"
			healthy = false
		} else {
			checks["database"] = "up"
		}
	}

	if h.broker != nil {
		if h.broker.IsConnected() {
			checks["rabbitmq"] = "up"
		} else {
			checks["rabbitmq"] = "down"
			healthy = false
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":  status,
		"service": h.service,
		"checks":  checks,
	})
}
