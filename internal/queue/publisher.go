package queue

import (
	"context"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the subset of the RabbitMQ client the queue needs.
// *rabbitmq.Client satisfies it.
type Broker interface {
	Publish(ctx context.Context, msg amqp.Publishing) error
	PublishDelayed(ctx context.Context, msg amqp.Publishing) error
	PublishDeadLetter(ctx context.Context, msg amqp.Publishing) error
}

// Publisher publishes job messages to RabbitMQ. Messages with a delay are
// parked on the delay queue and reach the main queue when they expire.
type Publisher struct {
	broker Broker
	logger *slog.Logger
}

// NewPublisher creates a new Publisher
func NewPublisher(broker Broker, logger *slog.Logger) *Publisher {
	return &Publisher{
		broker: broker,
		logger: logger,
	}
}

// Publish sends msg to the main queue, or the delay queue when msg.Delay is set
func (p *Publisher) Publish(ctx context.Context, msg Message) error {
	publishing := msg.Publishing()

	if msg.Delay > 0 {
		p.logger.Debug("Publishing delayed job",
			slog.String("job_id", msg.JobID),
			slog.Duration("delay", msg.Delay),
			slog.Int("attempt", msg.Attempt),
		)
		return p.broker.PublishDelayed(ctx, publishing)
	}

	return p.broker.Publish(ctx, publishing)
}

// DeadLetter sends msg to the dead-letter exchange
func (p *Publisher) DeadLetter(ctx context.Context, msg Message) error {
	msg.Delay = 0
	return p.broker.PublishDeadLetter(ctx, msg.Publishing())
}
