package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/saas-jobs/internal/jobs"
)

// NotificationPayload is the send-notification job payload
type NotificationPayload struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body,omitempty"`
	Link   string `json:"link,omitempty"`
}

// Notifier delivers in-app notifications
type Notifier interface {
	Notify(ctx context.Context, notificationID string, n NotificationPayload) error
}

// LogNotifier logs notifications instead of storing them
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, notificationID string, p NotificationPayload) error {
	n.logger.Info("Notification delivered",
		slog.String("notification_id", notificationID),
		slog.String("user_id", p.UserID),
		slog.String("title", p.Title),
	)
	return nil
}

// NotificationHandler runs send-notification jobs
type NotificationHandler struct {
	notifier Notifier
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(notifier Notifier) *NotificationHandler {
	return &NotificationHandler{notifier: notifier}
}

func (h *NotificationHandler) Handle(ctx context.Context, payload NotificationPayload, job jobs.Envelope) error {
	if payload.UserID == "" {
		payload.UserID = job.Metadata.UserID
	}
	if payload.UserID == "" {
		return fmt.Errorf("notification requires a userId")
	}
	if payload.Title == "" {
		return fmt.Errorf("notification requires a title")
	}

	// The job ID doubles as the notification ID so redeliveries upsert
	return h.notifier.Notify(ctx, job.JobID, payload)
}
