// Package routing decides how a service request is executed.
package routing

import (
	"fmt"
	"strings"

	"github.com/morezero/service-dispatcher/pkg/properties"
)

// Kind is the execution strategy selected for a request.
type Kind int

const (
	// RunRules inserts the request into working memory and fires all rules.
	RunRules Kind = iota
	// RunProcess starts the process named by Route.ProcessID.
	RunProcess
	// Reject refuses the request without acquiring a session.
	Reject
)

func (k Kind) String() string {
	switch k {
	case RunRules:
		return "rules"
	case RunProcess:
		return "process"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Route is the outcome of Resolve. ProcessID is set only for RunProcess.
type Route struct {
	Kind      Kind
	ProcessID string
}

func (r Route) String() string {
	if r.Kind == RunProcess {
		return "process:" + r.ProcessID
	}
	return r.Kind.String()
}

// Entry maps one HTTP method to a process id.
type Entry struct {
	Method    string
	ProcessID string
}

// Config holds the ordered method entries and the default process id.
// An empty Default means rules are fired directly.
type Config struct {
	Default string
	Entries []Entry
}

// StandardMethods is reported by AvailableMethods when no entries are configured.
var StandardMethods = []string{"GET", "HEAD", "POST", "PUT", "DELETE", "CONNECT", "OPTIONS", "TRACE"}

// Resolve picks the route for method.
//
// An empty method takes the default. Otherwise the first entry whose method
// matches case-insensitively wins. When entries exist but none matches the
// request is rejected; with no entries at all the default applies.
func Resolve(method string, cfg Config) Route {
	if method == "" {
		return defaultRoute(cfg)
	}
	for _, e := range cfg.Entries {
		if strings.EqualFold(e.Method, method) {
			return Route{Kind: RunProcess, ProcessID: e.ProcessID}
		}
	}
	if len(cfg.Entries) > 0 {
		return Route{Kind: Reject}
	}
	return defaultRoute(cfg)
}

func defaultRoute(cfg Config) Route {
	if cfg.Default == "" {
		return Route{Kind: RunRules}
	}
	return Route{Kind: RunProcess, ProcessID: cfg.Default}
}

// FromProperties builds a Config from kie.project.processid.<method> entries,
// in file order, and the kie.project.processId default.
func FromProperties(p *properties.Properties) Config {
	cfg := Config{Default: strings.TrimSpace(p.GetDefault(properties.KeyProcessID, ""))}
	for _, e := range p.WithPrefixFold(properties.KeyProcessIDPrefix) {
		method := e.Key[len(properties.KeyProcessIDPrefix):]
		if method == "" {
			continue
		}
		cfg.Entries = append(cfg.Entries, Entry{Method: method, ProcessID: strings.TrimSpace(e.Value)})
	}
	return cfg
}

// AvailableMethods lists the configured methods upper-cased, without
// duplicates, or StandardMethods when no entries exist.
func AvailableMethods(cfg Config) []string {
	if len(cfg.Entries) == 0 {
		out := make([]string, len(StandardMethods))
		copy(out, StandardMethods)
		return out
	}
	seen := make(map[string]bool, len(cfg.Entries))
	out := make([]string, 0, len(cfg.Entries))
	for _, e := range cfg.Entries {
		m := strings.ToUpper(e.Method)
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
