package service

import (
	"context"

	"github.com/morezero/service-dispatcher/pkg/model"
	"github.com/morezero/service-dispatcher/pkg/release"
)

// SpaceResolver supplies the default space (customer) a release runs in.
type SpaceResolver interface {
	Space(ctx context.Context, id release.ID) (string, error)
}

// SpaceResolverFunc adapts a function to SpaceResolver.
type SpaceResolverFunc func(ctx context.Context, id release.ID) (string, error)

// Space implements SpaceResolver.
func (f SpaceResolverFunc) Space(ctx context.Context, id release.ID) (string, error) { return f(ctx, id) }

// VariableInitializer supplies extra process variables for a request.
// Its variables are bound after, and so override, the standard ones.
type VariableInitializer interface {
	Variables(ctx context.Context, req *model.ServiceRequest) (map[string]any, error)
}

// VariableInitializerFunc adapts a function to VariableInitializer.
type VariableInitializerFunc func(ctx context.Context, req *model.ServiceRequest) (map[string]any, error)

// Variables implements VariableInitializer.
func (f VariableInitializerFunc) Variables(ctx context.Context, req *model.ServiceRequest) (map[string]any, error) {
	return f(ctx, req)
}

// PluginLoader processes one module plugin for a release at initialization.
type PluginLoader interface {
	Process(ctx context.Context, plugin string, id release.ID) error
}

// PluginLoaderFunc adapts a function to PluginLoader.
type PluginLoaderFunc func(ctx context.Context, plugin string, id release.ID) error

// Process implements PluginLoader.
func (f PluginLoaderFunc) Process(ctx context.Context, plugin string, id release.ID) error {
	return f(ctx, plugin, id)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthOutput is the output of Health.
type HealthOutput struct {
	Status    string       `json:"status"`
	Release   string       `json:"release"`
	Checks    HealthChecks `json:"checks"`
	Timestamp string       `json:"timestamp"`
}

// HealthChecks lists individual health checks.
type HealthChecks struct {
	Engine   bool  `json:"engine"`
	Database *bool `json:"database,omitempty"`
}

// Info describes a service for discovery.
type Info struct {
	Release          string         `json:"release"`
	Category         string         `json:"category,omitempty"`
	Space            string         `json:"space,omitempty"`
	AvailableMethods []string       `json:"availableMethods"`
	ServiceTypes     []string       `json:"serviceTypes"`
	Discovery        map[string]any `json:"discovery,omitempty"`
}
