// Package memory is an in-process implementation of the engine runtime contract.
//
// Process definitions and rules are plain Go functions registered on a
// KnowledgeBase. A Manager hands out one Runtime per correlation; each
// Runtime owns a fresh Session whose working memory lives until disposal.
// Process instances and work items are kept by the Manager so that later
// correlations (task updates) can resume them.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/morezero/service-dispatcher/pkg/engine"
)

const kbLogPrefix = "memory:knowledge"

// ProcessFunc is the body of a process definition.
type ProcessFunc func(ctx context.Context, pi *ProcessInstance) error

// Rule fires once per matching fact.
type Rule struct {
	Name string
	// When selects facts; nil matches every fact.
	When func(fact any) bool
	Then func(ctx context.Context, s *Session, fact any) error
}

// KnowledgeBase holds definitions and owns the stateful sessions created from it.
type KnowledgeBase struct {
	name      string
	processes map[string]ProcessFunc
	rules     []Rule

	mu       sync.Mutex
	sessions map[string]*Session
	disposed int
}

// NewKnowledgeBase creates an empty knowledge base.
func NewKnowledgeBase(name string) *KnowledgeBase {
	return &KnowledgeBase{
		name:      name,
		processes: make(map[string]ProcessFunc),
		sessions:  make(map[string]*Session),
	}
}

// Name returns the knowledge base name; it doubles as the execution context name.
func (kb *KnowledgeBase) Name() string { return kb.name }

// RegisterProcess adds or replaces a process definition.
func (kb *KnowledgeBase) RegisterProcess(id string, fn ProcessFunc) {
	kb.processes[id] = fn
}

// AddRule appends a rule. Rules fire in registration order.
func (kb *KnowledgeBase) AddRule(r Rule) {
	kb.rules = append(kb.rules, r)
}

// ProcessIDs returns the registered process definition ids, sorted.
func (kb *KnowledgeBase) ProcessIDs() []string {
	ids := make([]string, 0, len(kb.processes))
	for id := range kb.processes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (kb *KnowledgeBase) track(s *Session) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.sessions[s.id] = s
}

// DisposeSession disposes a session created from this knowledge base.
func (kb *KnowledgeBase) DisposeSession(d engine.Disposable) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	s, ok := kb.sessions[d.SessionID()]
	if !ok {
		return fmt.Errorf("%s - session %s is not owned by %s", kbLogPrefix, d.SessionID(), kb.name)
	}
	delete(kb.sessions, s.id)
	s.disposed = true
	s.facts = nil
	kb.disposed++
	slog.Debug(fmt.Sprintf("%s - Disposed session %s", kbLogPrefix, s.id))
	return nil
}

// LiveSessions returns the number of sessions not yet disposed.
func (kb *KnowledgeBase) LiveSessions() int {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return len(kb.sessions)
}

// DisposedSessions returns the number of sessions disposed so far.
func (kb *KnowledgeBase) DisposedSessions() int {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.disposed
}
