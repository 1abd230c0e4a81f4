package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/saas-jobs/internal/jobs"
)

// WebhookPayload is the process-webhook job payload
type WebhookPayload struct {
	Provider  string          `json:"provider"`
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// WebhookProcessor applies a verified provider event
type WebhookProcessor interface {
	Process(ctx context.Context, event WebhookPayload) error
}

// LoggingWebhookProcessor logs each provider event once and ignores repeats
type LoggingWebhookProcessor struct {
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewLoggingWebhookProcessor creates a new LoggingWebhookProcessor
func NewLoggingWebhookProcessor(logger *slog.Logger) *LoggingWebhookProcessor {
	return &LoggingWebhookProcessor{
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

func (p *LoggingWebhookProcessor) Process(_ context.Context, event WebhookPayload) error {
	key := event.Provider + ":" + event.EventID

	p.mu.Lock()
	_, dup := p.seen[key]
	p.seen[key] = struct{}{}
	p.mu.Unlock()

	if dup {
		p.logger.Info("Webhook event already processed",
			slog.String("provider", event.Provider),
			slog.String("event_id", event.EventID),
		)
		return nil
	}

	p.logger.Info("Webhook event processed",
		slog.String("provider", event.Provider),
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.Int("data_size", len(event.Data)),
	)
	return nil
}

// WebhookHandler runs process-webhook jobs
type WebhookHandler struct {
	processor WebhookProcessor
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

func (h *WebhookHandler) Handle(ctx context.Context, payload WebhookPayload, _ jobs.Envelope) error {
	if payload.Provider == "" || payload.EventID == "" || payload.EventType == "" {
		return fmt.Errorf("webhook event requires provider, eventId and eventType")
	}

	if err := h.processor.Process(ctx, payload); err != nil {
		return fmt.Errorf("failed to process %s event %s: %w", payload.Provider, payload.EventID, err)
	}
	return nil
}
