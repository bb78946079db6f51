package events

import (
	"context"
	"fmt"
	"log/slog"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/service-dispatcher/pkg/commsutil"
)

const commsPublisherLogPrefix = "events:comms_publisher"

// CommsPublisherOpts configures CommsPublisher. Nil or zero values use defaults.
type CommsPublisherOpts struct {
	// Subject overrides the global execution event subject (e.g. from EXECUTION_EVENT_SUBJECT).
	Subject string
}

// CommsPublisher publishes execution events to COMMS subjects.
type CommsPublisher struct {
	nc      *comms.Conn
	subject string
}

// NewCommsPublisher creates a new CommsPublisher. Pass nil for opts to use defaults.
func NewCommsPublisher(nc *comms.Conn, opts *CommsPublisherOpts) *CommsPublisher {
	subject := commsutil.SubjectExecutionEvent
	if opts != nil && opts.Subject != "" {
		subject = opts.Subject
	}
	return &CommsPublisher{nc: nc, subject: subject}
}

// Header names set on published execution events.
const (
	HeaderRelease   = "Service-Release"
	HeaderRequestID = "Request-Id"
)

// PublishExecution publishes an ExecutionEvent to the per-service subject,
// when the event names an artifact, and to the global execution subject.
func (p *CommsPublisher) PublishExecution(_ context.Context, event *ExecutionEvent) error {
	data, err := commsutil.EncodePayload(event)
	if err != nil {
		return fmt.Errorf("%s - failed to encode event: %w", commsPublisherLogPrefix, err)
	}

	subjects := []string{p.subject}
	if event.Artifact != "" {
		subjects = []string{commsutil.BuildExecutionSubject(p.subject, event.Artifact), p.subject}
	}
	for _, subject := range subjects {
		msg := comms.NewMsg(subject)
		msg.Data = data
		msg.Header.Set(HeaderRelease, event.Release)
		if event.RequestID != "" {
			msg.Header.Set(HeaderRequestID, event.RequestID)
		}
		if err := p.nc.PublishMsg(msg); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish to %s: %v", commsPublisherLogPrefix, subject, err))
			return fmt.Errorf("%s - publish to %s: %w", commsPublisherLogPrefix, subject, err)
		}
	}

	slog.Debug(fmt.Sprintf("%s - Published execution event for %s request %s", commsPublisherLogPrefix, event.Release, event.RequestID))
	return nil
}
