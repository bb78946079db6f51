package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const managerLogPrefix = "memory:manager"

// Manager is an engine.Manager over a KnowledgeBase.
type Manager struct {
	kb    *KnowledgeBase
	ec    engine.ExecutionContext
	tasks task.Store

	mu        sync.Mutex
	nextPI    int64
	nextWI    int64
	instances map[int64]*ProcessInstance
	workItems map[int64]*WorkItem
	runtimes  map[*Runtime]struct{}
	released  int
}

var _ engine.Manager = (*Manager)(nil)

// NewManager creates a Manager. A nil store uses a task.MemoryStore.
func NewManager(kb *KnowledgeBase, store task.Store) *Manager {
	if store == nil {
		store = task.NewMemoryStore()
	}
	return &Manager{
		kb:        kb,
		ec:        engine.NamedContext(kb.Name()),
		tasks:     store,
		instances: make(map[int64]*ProcessInstance),
		workItems: make(map[int64]*WorkItem),
		runtimes:  make(map[*Runtime]struct{}),
	}
}

// KnowledgeBase implements engine.Manager.
func (m *Manager) KnowledgeBase() engine.KnowledgeBase { return m.kb }

// ExecutionContext implements engine.Manager.
func (m *Manager) ExecutionContext() engine.ExecutionContext { return m.ec }

// RuntimeEngine implements engine.Manager.
func (m *Manager) RuntimeEngine(_ context.Context, corr engine.Correlation) (engine.RuntimeEngine, error) {
	if !corr.IsNew() {
		if _, ok := m.Instance(corr.ProcessInstanceID); !ok {
			return nil, fmt.Errorf("%s - %w: %d", managerLogPrefix, engine.ErrUnknownProcessInstance, corr.ProcessInstanceID)
		}
	}

	s := &Session{
		id:    uuid.NewString(),
		m:     m,
		fired: make(map[activation]bool),
	}
	m.kb.track(s)

	rt := &Runtime{m: m, corr: corr, session: s}
	m.mu.Lock()
	m.runtimes[rt] = struct{}{}
	m.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Acquired runtime session=%s processInstance=%d", managerLogPrefix, s.id, corr.ProcessInstanceID))
	return rt, nil
}

// DisposeRuntimeEngine implements engine.Manager.
func (m *Manager) DisposeRuntimeEngine(rt engine.RuntimeEngine) error {
	r, ok := rt.(*Runtime)
	if !ok {
		return fmt.Errorf("%s - runtime %T is not managed here", managerLogPrefix, rt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runtimes[r]; !ok {
		return fmt.Errorf("%s - runtime already released", managerLogPrefix)
	}
	delete(m.runtimes, r)
	m.released++
	return nil
}

// ActiveRuntimes returns the number of runtimes not yet released.
func (m *Manager) ActiveRuntimes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runtimes)
}

// ReleasedRuntimes returns the number of runtimes released so far.
func (m *Manager) ReleasedRuntimes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.released
}

// Instance returns a process instance by id.
func (m *Manager) Instance(id int64) (*ProcessInstance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pi, ok := m.instances[id]
	return pi, ok
}

// WorkItem returns a snapshot of a work item.
func (m *Manager) WorkItem(id int64) (WorkItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wi, ok := m.workItems[id]
	if !ok {
		return WorkItem{}, false
	}
	return *wi, true
}

func (m *Manager) newInstance(processID string, vars map[string]any) *ProcessInstance {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPI++
	pi := &ProcessInstance{
		id:        m.nextPI,
		processID: processID,
		vars:      vars,
		state:     StateActive,
		m:         m,
	}
	m.instances[pi.id] = pi
	return pi
}

func (m *Manager) newWorkItem(pi *ProcessInstance, name string, params map[string]any, onComplete CompletionHandler) *WorkItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWI++
	wi := &WorkItem{
		ID:                m.nextWI,
		Name:              name,
		ProcessInstanceID: pi.id,
		Params:            params,
		State:             WorkItemPending,
		onComplete:        onComplete,
	}
	m.workItems[wi.ID] = wi
	return wi
}

// Runtime is the engine.RuntimeEngine handed out by Manager.
type Runtime struct {
	m       *Manager
	corr    engine.Correlation
	session *Session
}

// Session implements engine.RuntimeEngine.
func (r *Runtime) Session() engine.Session { return r.session }

// TaskService implements engine.RuntimeEngine.
func (r *Runtime) TaskService() engine.TaskService { return &taskService{m: r.m} }

// Correlation returns the correlation the runtime was acquired for.
func (r *Runtime) Correlation() engine.Correlation { return r.corr }

type taskService struct {
	m *Manager
}

func (t *taskService) Execute(ctx context.Context, cmd engine.Command) error {
	switch c := cmd.(type) {
	case engine.UpdateTaskCommand:
		if c.Task == nil || c.Task.ID == 0 {
			return fmt.Errorf("%s - %s requires a persisted task", managerLogPrefix, c.Name())
		}
		if _, err := t.m.tasks.Save(ctx, c.Task); err != nil {
			return fmt.Errorf("%s - %s failed: %w", managerLogPrefix, c.Name(), err)
		}
		return nil
	default:
		return fmt.Errorf("%s - unsupported command %s", managerLogPrefix, cmd.Name())
	}
}

func (t *taskService) Task(ctx context.Context, id int64) (*task.Task, error) {
	return t.m.tasks.Get(ctx, id)
}
