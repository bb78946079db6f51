package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const publisherLogPrefix = "events:publisher"

// EventPublisher publishes execution events.
type EventPublisher interface {
	PublishExecution(ctx context.Context, event *ExecutionEvent) error
}

// PublisherFunc adapts a function to EventPublisher.
type PublisherFunc func(ctx context.Context, event *ExecutionEvent) error

// PublishExecution calls f.
func (f PublisherFunc) PublishExecution(ctx context.Context, event *ExecutionEvent) error {
	return f(ctx, event)
}

// NoOpPublisher drops every event.
type NoOpPublisher struct{}

// PublishExecution is a no-op.
func (p *NoOpPublisher) PublishExecution(_ context.Context, _ *ExecutionEvent) error {
	return nil
}

// LogPublisher writes events to the default slog logger. Failed executions
// are logged at warn level.
type LogPublisher struct{}

// PublishExecution logs the event.
func (p *LogPublisher) PublishExecution(_ context.Context, e *ExecutionEvent) error {
	msg := fmt.Sprintf("%s - %s %s %s route=%s status=%d in %dms", publisherLogPrefix, e.Release, e.Method, e.Path, e.Route, e.Status, e.DurationMs)
	if e.Failed() {
		slog.Warn(fmt.Sprintf("%s error=%s", msg, e.ErrorKind))
		return nil
	}
	slog.Info(msg)
	return nil
}

// Multi publishes each event to every publisher and joins their errors.
func Multi(publishers ...EventPublisher) EventPublisher {
	return PublisherFunc(func(ctx context.Context, event *ExecutionEvent) error {
		var errs []error
		for _, p := range publishers {
			if err := p.PublishExecution(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
