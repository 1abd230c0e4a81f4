package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/saas-jobs/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets up the RabbitMQ consumer with QoS and returns the delivery channel
func (r *Relay) setupConsumer() (<-chan amqp.Delivery, error) {
	// prefetch_count: number of unacknowledged messages per consumer
	if err := r.consumer.SetQos(r.prefetchCount); err != nil {
		return nil, err
	}

	r.logger.Info("RabbitMQ QoS configured",
		slog.Int("prefetch_count", r.prefetchCount),
	)

	deliveries, err := r.consumer.Consume(r.relayID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	r.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", r.relayID),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands them to the worker pool
func (r *Relay) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	r.logger.Info("Message dispatcher started",
		slog.String("relay_id", r.relayID),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Message dispatcher stopped - context canceled")
			return nil

		case <-r.stopChan:
			r.logger.Info("Message dispatcher stopped - relay stopping")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				r.logger.Warn("RabbitMQ delivery channel closed")
				return fmt.Errorf("delivery channel closed")
			}

			msg, err := queue.FromDelivery(delivery)
			if err != nil {
				r.logger.Error("Failed to decode job message",
					slog.String("message_id", delivery.MessageId),
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// NACK without requeue - the main queue dead-letters it
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					r.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			select {
			case r.jobsChan <- &job{msg: msg, delivery: delivery}:
				r.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				r.logger.Info("Message dispatcher stopped while dispatching job")
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					r.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return nil
			case <-r.stopChan:
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					r.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return nil
			}
		}
	}
}
