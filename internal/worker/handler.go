package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/saas-jobs/internal/jobs"
)

// JobHandler runs the business logic for one job type. Deliveries are
// at-least-once, so implementations must tolerate the same job twice.
type JobHandler[T any] interface {
	Handle(ctx context.Context, payload T, job jobs.Envelope) error
}

// HandlerFunc adapts a function to JobHandler
type HandlerFunc[T any] func(ctx context.Context, payload T, job jobs.Envelope) error

// Handle calls f(ctx, payload, job)
func (f HandlerFunc[T]) Handle(ctx context.Context, payload T, job jobs.Envelope) error {
	return f(ctx, payload, job)
}

// Binding ties a job type to a typed handler. Create one with Bind.
type Binding interface {
	JobType() jobs.Type

	// prepare decodes the envelope payload and returns the call to run
	prepare(env jobs.Envelope) (func(ctx context.Context) error, error)
}

type binding[T any] struct {
	jobType jobs.Type
	handler JobHandler[T]
}

// Bind registers handler for jobType. The envelope payload is decoded into T
// before the handler runs.
func Bind[T any](jobType jobs.Type, handler JobHandler[T]) Binding {
	return &binding[T]{jobType: jobType, handler: handler}
}

func (b *binding[T]) JobType() jobs.Type {
	return b.jobType
}

func (b *binding[T]) prepare(env jobs.Envelope) (func(ctx context.Context) error, error) {
	var payload T
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
	}

	return func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return b.handler.Handle(ctx, payload, env)
	}, nil
}
