// Package commsutil provides COMMS connection helpers and utilities.
package commsutil

import (
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"
)

const logPrefix = "commsutil:connect"

const (
	defaultDialTimeout   = 10 * time.Second
	defaultReconnectWait = 2 * time.Second
	defaultMaxReconnects = 60
)

// ConnectParams configures a COMMS connection.
type ConnectParams struct {
	URL  string
	Name string
	// Timeout bounds the initial dial. Zero uses 10s.
	Timeout time.Duration
	// MaxReconnects of zero uses 60. Negative retries forever.
	MaxReconnects int
}

// Connect creates a COMMS connection for the dispatcher.
func Connect(params ConnectParams) (*comms.Conn, error) {
	slog.Info(fmt.Sprintf("%s - Connecting to COMMS at %s as %s", logPrefix, params.URL, params.Name))

	nc, err := comms.Connect(params.URL, options(params)...)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Connected to COMMS at %s", logPrefix, nc.ConnectedUrl()))
	return nc, nil
}

func options(params ConnectParams) []comms.Option {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	maxReconnects := params.MaxReconnects
	if maxReconnects == 0 {
		maxReconnects = defaultMaxReconnects
	}

	return []comms.Option{
		comms.Name(params.Name),
		comms.Timeout(timeout),
		comms.ReconnectWait(defaultReconnectWait),
		comms.MaxReconnects(maxReconnects),
		comms.DisconnectErrHandler(func(_ *comms.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - COMMS disconnected: %v", logPrefix, err))
		}),
		comms.ReconnectHandler(func(nc *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS reconnected to %s", logPrefix, nc.ConnectedUrl()))
		}),
		comms.ClosedHandler(func(_ *comms.Conn) {
			slog.Info(fmt.Sprintf("%s - COMMS connection closed", logPrefix))
		}),
		// Slow consumers on a dispatch subscription mean dropped requests.
		comms.ErrorHandler(func(_ *comms.Conn, sub *comms.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error(fmt.Sprintf("%s - COMMS async error on %q: %v", logPrefix, subject, err))
		}),
	}
}
