// Package service executes service requests against a rule/workflow engine.
//
// A Service routes each request either to a named process or to a direct
// rule firing, runs it in a request-scoped engine session and yields
// exactly one ServiceResponse. It also bridges human task updates back to
// the work items their processes wait on.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/morezero/service-dispatcher/pkg/discovery"
	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/events"
	"github.com/morezero/service-dispatcher/pkg/properties"
	"github.com/morezero/service-dispatcher/pkg/release"
	"github.com/morezero/service-dispatcher/pkg/routing"
	"github.com/morezero/service-dispatcher/pkg/scrub"
)

const logPrefix = "service:service"

// Service is a deployed release bound to an engine.
type Service struct {
	release   release.ID
	props     *properties.Properties
	manager   engine.Manager
	scrubbers scrub.Locator
	variables VariableInitializer
	publisher events.EventPublisher
	database  Pinger
	discovery discovery.Document
	space     string
	logExec   bool
	routes    atomic.Pointer[routing.Config]
	now       func() time.Time
}

// NewServiceParams holds parameters for NewService.
type NewServiceParams struct {
	Release    release.ID
	Properties *properties.Properties
	Manager    engine.Manager
	// Scrubbers selects the request scrubber. Nil never scrubs.
	Scrubbers scrub.Locator
	// Variables supplies extra process variables. Optional.
	Variables VariableInitializer
	// Publisher receives execution events when kie.project.logexec is set. Nil disables them.
	Publisher events.EventPublisher
	// Spaces resolves the default space when DefaultSpace is empty. Optional.
	Spaces       SpaceResolver
	DefaultSpace string
	// Plugins processes every configured module plugin at initialization. Optional.
	Plugins   PluginLoader
	Discovery discovery.Document
	// Database is reported by Health when set.
	Database Pinger
}

// NewService validates params, resolves the default space and processes the
// configured module plugins.
func NewService(ctx context.Context, params NewServiceParams) (*Service, error) {
	if params.Properties == nil {
		return nil, &properties.ConfigurationError{Path: "<unset>", Err: errors.New("service properties are required")}
	}
	if params.Manager == nil {
		return nil, fmt.Errorf("%s - engine manager is required", logPrefix)
	}
	if params.Release.Artifact == "" {
		return nil, fmt.Errorf("%s - release id is required", logPrefix)
	}

	scrubbers := params.Scrubbers
	if scrubbers == nil {
		scrubbers = scrub.Static{}
	}
	pub := params.Publisher
	if pub == nil {
		pub = &events.NoOpPublisher{}
	}

	s := &Service{
		release:   params.Release,
		props:     params.Properties,
		manager:   params.Manager,
		scrubbers: scrubbers,
		variables: params.Variables,
		publisher: pub,
		database:  params.Database,
		discovery: params.Discovery,
		space:     params.DefaultSpace,
		logExec:   params.Properties.LogExecution(),
		now:       time.Now,
	}

	if s.space == "" && params.Spaces != nil {
		space, err := params.Spaces.Space(ctx, params.Release)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to resolve space for %s: %w", logPrefix, params.Release, err)
		}
		s.space = space
	}

	cfg := routing.FromProperties(params.Properties)
	s.routes.Store(&cfg)

	if params.Plugins != nil {
		for _, plugin := range params.Properties.Plugins() {
			if err := params.Plugins.Process(ctx, plugin, params.Release); err != nil {
				return nil, fmt.Errorf("%s - plugin %s failed for %s: %w", logPrefix, plugin, params.Release, err)
			}
			slog.Debug(fmt.Sprintf("%s - Processed plugin %s for %s", logPrefix, plugin, params.Release))
		}
	}

	slog.Info(fmt.Sprintf("%s - Service %s initialized (default process %q, %d method routes, space %q)",
		logPrefix, params.Release, cfg.Default, len(cfg.Entries), s.space))
	return s, nil
}

// Release returns the service's release id.
func (s *Service) Release() release.ID { return s.release }

// Space returns the default space the service runs in.
func (s *Service) Space() string { return s.space }

// Category returns the trimmed serviceCategory, or "" when unset.
func (s *Service) Category() string {
	c, _ := s.props.Category()
	return c
}

// ServiceTypes returns the configured project packages.
func (s *Service) ServiceTypes() []string { return s.props.Packages() }

// AvailableMethods returns the methods this service accepts.
func (s *Service) AvailableMethods() []string {
	return routing.AvailableMethods(*s.routes.Load())
}

// Discovery returns the discovery document, or nil.
func (s *Service) Discovery() discovery.Document { return s.discovery }

// Info describes the service.
func (s *Service) Info() *Info {
	return &Info{
		Release:          s.release.String(),
		Category:         s.Category(),
		Space:            s.space,
		AvailableMethods: s.AvailableMethods(),
		ServiceTypes:     s.ServiceTypes(),
		Discovery:        s.discovery,
	}
}

// Stop clears the default process id. Later requests that would have used
// it fire rules directly instead.
func (s *Service) Stop() {
	cur := s.routes.Load()
	next := routing.Config{Entries: cur.Entries}
	s.routes.Store(&next)
	slog.Info(fmt.Sprintf("%s - Service %s stopped", logPrefix, s.release))
}

// Health reports engine and database availability.
func (s *Service) Health(ctx context.Context) *HealthOutput {
	engineOk := s.manager != nil && s.manager.KnowledgeBase() != nil
	healthy := engineOk

	var dbOk *bool
	if s.database != nil {
		ok := s.database.Ping(ctx) == nil
		dbOk = &ok
		healthy = healthy && ok
	}

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return &HealthOutput{
		Status:    status,
		Release:   s.release.String(),
		Checks:    HealthChecks{Engine: engineOk, Database: dbOk},
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
}

func (s *Service) defaultResponseMessage() string {
	return fmt.Sprintf("Process for service %s is getting started", s.release.Artifact)
}

func methodLabel(method string) string {
	if strings.TrimSpace(method) == "" {
		return "<none>"
	}
	return method
}
