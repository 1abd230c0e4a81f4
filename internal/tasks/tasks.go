// Package tasks holds the business handlers behind each job type.
package tasks

import (
	"log/slog"

	"github.com/cuongbtq/saas-jobs/internal/jobs"
	"github.com/cuongbtq/saas-jobs/internal/worker"
)

// Dependencies are the external collaborators the handlers call
type Dependencies struct {
	Mailer        Mailer
	Webhooks      WebhookProcessor
	Notifier      Notifier
	SessionPurger SessionPurger
	Logger        *slog.Logger
}

// Bindings returns one worker binding per job type. Missing collaborators
// fall back to the logging implementations.
func Bindings(deps Dependencies) []worker.Binding {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Mailer == nil {
		deps.Mailer = NewLogMailer(logger)
	}
	if deps.Webhooks == nil {
		deps.Webhooks = NewLoggingWebhookProcessor(logger)
	}
	if deps.Notifier == nil {
		deps.Notifier = NewLogNotifier(logger)
	}
	if deps.SessionPurger == nil {
		deps.SessionPurger = NoopSessionPurger{}
	}

	return []worker.Binding{
		worker.Bind[EmailPayload](jobs.TypeSendEmail, NewEmailHandler(deps.Mailer)),
		worker.Bind[WebhookPayload](jobs.TypeProcessWebhook, NewWebhookHandler(deps.Webhooks)),
		worker.Bind[NotificationPayload](jobs.TypeSendNotification, NewNotificationHandler(deps.Notifier)),
		worker.Bind[CleanupSessionsPayload](jobs.TypeCleanupSessions, NewCleanupSessionsHandler(deps.SessionPurger, logger)),
	}
}
