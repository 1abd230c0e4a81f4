package relay

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (r *Relay) spawnWorkerPool(ctx context.Context) {
	r.logger.Info("Spawning worker pool",
		slog.Int("concurrency", r.concurrency),
		slog.String("relay_id", r.relayID),
	)

	for i := 0; i < r.concurrency; i++ {
		r.wg.Add(1)
		go r.workerLoop(ctx, i)
	}
}

// workerLoop is the main delivery loop for each worker goroutine
func (r *Relay) workerLoop(ctx context.Context, workerNum int) {
	defer r.wg.Done()

	workerName := fmt.Sprintf("%s-%d", r.relayID, workerNum)
	r.logger.Debug("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-r.stopChan:
			r.logger.Debug("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			r.logger.Debug("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case j := <-r.jobsChan:
			r.handleJob(ctx, j)
		}
	}
}

// handleJob pushes one job and settles its delivery
func (r *Relay) handleJob(ctx context.Context, j *job) {
	logger := r.logger.With(
		slog.String("job_id", j.msg.JobID),
		slog.String("job_type", j.msg.JobType),
		slog.Int("attempt", j.msg.Attempt),
	)

	outcome, err := r.processJob(ctx, j.msg)
	if err != nil {
		// The job could not be handed back to the broker; let it redeliver the original
		logger.Error("Failed to settle job, requeueing delivery",
			slog.String("error", err.Error()),
		)
		if nackErr := j.delivery.Nack(false, true); nackErr != nil {
			logger.Error("Failed to NACK message",
				slog.String("error", nackErr.Error()),
			)
		}
		return
	}

	r.metrics.RelayDeliveries.WithLabelValues(j.msg.JobType, outcome).Inc()

	if ackErr := j.delivery.Ack(false); ackErr != nil {
		logger.Error("Failed to ACK message",
			slog.String("error", ackErr.Error()),
		)
	}
}
