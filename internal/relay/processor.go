package relay

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cuongbtq/saas-jobs/internal/metrics"
	"github.com/cuongbtq/saas-jobs/internal/queue"
	"github.com/cuongbtq/saas-jobs/internal/signature"
)

// Request headers sent with every push besides the signature
const (
	HeaderMessageID = "X-Queue-Message-Id"
	HeaderRetried   = "X-Queue-Retried"
)

// maxErrorBody bounds how much of a failed response is kept as the job's last error
const maxErrorBody = 512

// PushError is returned when a worker endpoint answers with a non-2xx status
type PushError struct {
	StatusCode int
	Body       string
}

func (e *PushError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("worker returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("worker returned status %d: %s", e.StatusCode, e.Body)
}

// processJob pushes msg and, on failure, schedules its retry or dead-letters it.
// It returns the outcome label. An error means the broker did not take the
// follow-up message and the delivery must not be acknowledged.
func (r *Relay) processJob(ctx context.Context, msg queue.Message) (string, error) {
	start := time.Now()
	pushErr := r.push(ctx, msg)
	metrics.ObserveSince(r.metrics.RelayPushDuration, msg.JobType, start)

	if pushErr == nil {
		r.logger.Info("Job delivered",
			slog.String("job_id", msg.JobID),
			slog.String("endpoint", msg.Endpoint),
			slog.Int("attempt", msg.Attempt),
			slog.Duration("duration", time.Since(start)),
		)
		return metrics.OutcomeDelivered, nil
	}

	next := msg
	next.LastError = pushErr.Error()

	if msg.Attempt < msg.MaxRetries {
		next.Attempt = msg.Attempt + 1
		next.Delay = r.backoff(msg.Attempt)

		r.logger.Warn("Job delivery failed, scheduling retry",
			slog.String("job_id", msg.JobID),
			slog.Int("attempt", msg.Attempt),
			slog.Int("max_retries", msg.MaxRetries),
			slog.Duration("retry_after", next.Delay),
			slog.String("error", pushErr.Error()),
		)

		if err := r.publisher.Publish(ctx, next); err != nil {
			return "", fmt.Errorf("failed to schedule retry: %w", err)
		}
		return metrics.OutcomeRetried, nil
	}

	r.logger.Error("Job exceeded max retries, dead-lettering",
		slog.String("job_id", msg.JobID),
		slog.Int("attempt", msg.Attempt),
		slog.Int("max_retries", msg.MaxRetries),
		slog.String("error", pushErr.Error()),
	)

	next.Delay = 0
	if err := r.publisher.DeadLetter(ctx, next); err != nil {
		return "", fmt.Errorf("failed to dead-letter job: %w", err)
	}
	return metrics.OutcomeDead, nil
}

// push POSTs the signed envelope to the job's endpoint within the job timeout
func (r *Relay) push(ctx context.Context, msg queue.Message) error {
	url := r.targetBaseURL + msg.Endpoint

	token, err := r.signer.Sign(url, msg.Body)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	timeout := r.defaultTimeout
	if msg.TimeoutSeconds > 0 {
		timeout = time.Duration(msg.TimeoutSeconds) * time.Second
	}

	pushCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(pushCtx, http.MethodPost, url, bytes.NewReader(msg.Body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signature.Header, token)
	req.Header.Set(HeaderMessageID, msg.DeduplicationID)
	req.Header.Set(HeaderRetried, strconv.Itoa(msg.Attempt))

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &PushError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return nil
}

// backoff returns initialBackoff * 2^attempt, capped at maxBackoff
func (r *Relay) backoff(attempt int) time.Duration {
	d := r.initialBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= r.maxBackoff {
			return r.maxBackoff
		}
	}
	if d > r.maxBackoff {
		return r.maxBackoff
	}
	return d
}
