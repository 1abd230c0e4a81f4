package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"sort"

	"github.com/cuongbtq/saas-jobs/internal/jobs"
)

// Email templates
const (
	TemplateWelcome         = "welcome"
	TemplatePasswordChanged = "password-changed"
	TemplateInvitation      = "invitation"
	TemplatePaymentFailed   = "payment-failed"
)

var templateSubjects = map[string]string{
	TemplateWelcome:         "Welcome aboard",
	TemplatePasswordChanged: "Your password was changed",
	TemplateInvitation:      "You have been invited to join an organization",
	TemplatePaymentFailed:   "Your payment could not be processed",
}

// Templates returns the registered template names in sorted order
func Templates() []string {
	names := make([]string, 0, len(templateSubjects))
	for name := range templateSubjects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EmailPayload is the send-email job payload
type EmailPayload struct {
	To       string         `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// Email is a rendered message handed to the Mailer
type Email struct {
	To       string
	Subject  string
	Template string
	Data     map[string]any

	// IdempotencyKey lets the provider drop repeats of the same job
	IdempotencyKey string
}

// Mailer delivers transactional email
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// LogMailer logs emails instead of sending them
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a new LogMailer
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, email Email) error {
	m.logger.Info("Email sent",
		slog.String("to", email.To),
		slog.String("subject", email.Subject),
		slog.String("template", email.Template),
		slog.String("idempotency_key", email.IdempotencyKey),
	)
	return nil
}

// EmailHandler runs send-email jobs
type EmailHandler struct {
	mailer Mailer
}

// NewEmailHandler creates a new EmailHandler
func NewEmailHandler(mailer Mailer) *EmailHandler {
	return &EmailHandler{mailer: mailer}
}

func (h *EmailHandler) Handle(ctx context.Context, payload EmailPayload, job jobs.Envelope) error {
	if _, err := mail.ParseAddress(payload.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", payload.To, err)
	}

	subject, ok := templateSubjects[payload.Template]
	if !ok {
		return fmt.Errorf("unknown email template %q", payload.Template)
	}

	email := Email{
		To:             payload.To,
		Subject:        subject,
		Template:       payload.Template,
		Data:           payload.Data,
		IdempotencyKey: job.JobID,
	}
	if err := h.mailer.Send(ctx, email); err != nil {
		return fmt.Errorf("failed to send %s email: %w", payload.Template, err)
	}
	return nil
}
