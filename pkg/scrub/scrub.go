// Package scrub sanitizes inbound service requests before execution.
package scrub

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"

	"github.com/morezero/service-dispatcher/pkg/model"
)

const logPrefix = "scrub:scrub"

// Scrubber sanitizes a request in place.
type Scrubber interface {
	Scrub(ctx context.Context, req *model.ServiceRequest) error
}

// Locator selects the scrubber for a request.
type Locator interface {
	Scrubber(req *model.ServiceRequest) Scrubber
}

// Func adapts a function to Scrubber.
type Func func(ctx context.Context, req *model.ServiceRequest) error

// Scrub implements Scrubber.
func (f Func) Scrub(ctx context.Context, req *model.ServiceRequest) error { return f(ctx, req) }

// NoOp leaves requests untouched.
var NoOp Scrubber = Func(func(context.Context, *model.ServiceRequest) error { return nil })

// HeaderScrubber removes the named headers (case-insensitive).
type HeaderScrubber struct {
	Headers []string
}

// Scrub implements Scrubber.
func (h HeaderScrubber) Scrub(_ context.Context, req *model.ServiceRequest) error {
	for name := range req.Headers {
		for _, drop := range h.Headers {
			if strings.EqualFold(name, drop) {
				delete(req.Headers, name)
				slog.Debug(fmt.Sprintf("%s - Removed header %s from request %s", logPrefix, name, req.ID))
				break
			}
		}
	}
	return nil
}

// ByContentType selects a scrubber by the request's media type.
// Requests with no or unknown media type, or a nil entry, use Fallback, or
// NoOp when unset.
type ByContentType struct {
	Scrubbers map[string]Scrubber
	Fallback  Scrubber
}

// Scrubber implements Locator.
func (b ByContentType) Scrubber(req *model.ServiceRequest) Scrubber {
	if ct := req.Header("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err == nil {
			if s := b.Scrubbers[strings.ToLower(mt)]; s != nil {
				return s
			}
		}
	}
	if b.Fallback != nil {
		return b.Fallback
	}
	return NoOp
}

// Static always returns the same scrubber.
type Static struct {
	S Scrubber
}

// Scrubber implements Locator.
func (s Static) Scrubber(*model.ServiceRequest) Scrubber {
	if s.S == nil {
		return NoOp
	}
	return s.S
}
