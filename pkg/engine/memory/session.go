package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/morezero/service-dispatcher/pkg/engine"
)

const sessionLogPrefix = "memory:session"

// maxFirings bounds one FireAllRules call.
const maxFirings = 10000

// ErrAgendaOverflow is returned when rules keep activating past maxFirings.
var ErrAgendaOverflow = errors.New("rule agenda overflow")

type activation struct {
	rule int
	fact int
}

// Session is a working memory over a KnowledgeBase. It is owned by one
// request and is not safe for concurrent use.
type Session struct {
	id       string
	m        *Manager
	facts    []any
	fired    map[activation]bool
	disposed bool
}

var (
	_ engine.Session    = (*Session)(nil)
	_ engine.Disposable = (*Session)(nil)
)

// SessionID implements engine.Disposable.
func (s *Session) SessionID() string { return s.id }

// AsDisposable implements engine.Session.
func (s *Session) AsDisposable() (engine.Disposable, bool) { return s, true }

// Disposed reports whether the knowledge base disposed this session.
func (s *Session) Disposed() bool { return s.disposed }

// StartProcess resolves processID through the active execution context and runs it.
func (s *Session) StartProcess(ctx context.Context, processID string, vars map[string]any) (engine.ProcessInstance, error) {
	if s.disposed {
		return nil, engine.ErrSessionDisposed
	}
	if ec := engine.ActiveContext(ctx); ec == nil || ec.Name() != s.m.kb.Name() {
		return nil, fmt.Errorf("%s - %w: %s not visible from execution context %s", sessionLogPrefix, engine.ErrUnknownProcess, processID, contextName(ec))
	}
	fn, ok := s.m.kb.processes[processID]
	if !ok {
		return nil, fmt.Errorf("%s - %w: %s", sessionLogPrefix, engine.ErrUnknownProcess, processID)
	}

	pi := s.m.newInstance(processID, maps.Clone(vars))
	if pi.vars == nil {
		pi.vars = make(map[string]any)
	}
	if err := fn(ctx, pi); err != nil {
		pi.setState(StateAborted)
		return pi, fmt.Errorf("%s - process %s instance %d failed: %w", sessionLogPrefix, processID, pi.id, err)
	}
	pi.completeIfIdle()
	return pi, nil
}

// Insert adds a fact to working memory.
func (s *Session) Insert(_ context.Context, fact any) error {
	if s.disposed {
		return engine.ErrSessionDisposed
	}
	s.facts = append(s.facts, fact)
	return nil
}

// FireAllRules fires every pending activation, including those created by
// facts inserted while firing, and returns the number of rules fired.
func (s *Session) FireAllRules(ctx context.Context) (int, error) {
	if s.disposed {
		return 0, engine.ErrSessionDisposed
	}
	fired := 0
	for {
		progressed := false
		for fi := 0; fi < len(s.facts); fi++ {
			fact := s.facts[fi]
			for ri, r := range s.m.kb.rules {
				key := activation{rule: ri, fact: fi}
				if s.fired[key] {
					continue
				}
				if r.When != nil && !r.When(fact) {
					continue
				}
				s.fired[key] = true
				if fired >= maxFirings {
					return fired, fmt.Errorf("%s - %w after %d firings", sessionLogPrefix, ErrAgendaOverflow, fired)
				}
				if r.Then != nil {
					if err := r.Then(ctx, s, fact); err != nil {
						return fired, fmt.Errorf("%s - rule %q failed: %w", sessionLogPrefix, r.Name, err)
					}
				}
				fired++
				progressed = true
			}
		}
		if !progressed {
			return fired, nil
		}
	}
}

// Objects returns the working memory objects accepted by filter, in insertion order.
func (s *Session) Objects(filter engine.ObjectFilter) []any {
	var out []any
	for _, f := range s.facts {
		if filter == nil || filter(f) {
			out = append(out, f)
		}
	}
	return out
}

// WorkItemManager implements engine.Session.
func (s *Session) WorkItemManager() engine.WorkItemManager {
	return &workItemManager{m: s.m}
}

func contextName(ec engine.ExecutionContext) string {
	if ec == nil {
		return "<none>"
	}
	return ec.Name()
}
