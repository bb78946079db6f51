package service

import (
	"context"
	"testing"

	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/engine/memory"
	"github.com/morezero/service-dispatcher/pkg/model"
	"github.com/morezero/service-dispatcher/pkg/properties"
	"github.com/morezero/service-dispatcher/pkg/release"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const testRelease = "org.acme:bmi-service:1.0.0"

type fixture struct {
	kb    *memory.KnowledgeBase
	mgr   *memory.Manager
	store *task.MemoryStore
	svc   *Service
}

// newFixture builds a Service over an in-memory engine. configure registers
// processes and rules before the service is created.
func newFixture(t *testing.T, props *properties.Properties, configure func(kb *memory.KnowledgeBase), mutate func(p *NewServiceParams)) *fixture {
	t.Helper()
	kb := memory.NewKnowledgeBase("bmi-service")
	if configure != nil {
		configure(kb)
	}
	store := task.NewMemoryStore()
	mgr := memory.NewManager(kb, store)

	params := NewServiceParams{
		Release:      release.MustParse(testRelease),
		Properties:   props,
		Manager:      mgr,
		DefaultSpace: "acme",
	}
	if mutate != nil {
		mutate(&params)
	}
	svc, err := NewService(context.Background(), params)
	if err != nil {
		t.Fatalf("service:helpers_test - NewService failed: %v", err)
	}
	return &fixture{kb: kb, mgr: mgr, store: store, svc: svc}
}

// assertCleanedUp checks every acquired session was disposed and every runtime released.
func (f *fixture) assertCleanedUp(t *testing.T, executions int) {
	t.Helper()
	if f.kb.LiveSessions() != 0 || f.kb.DisposedSessions() != executions {
		t.Errorf("service:helpers_test - live sessions=%d disposed=%d, want 0/%d", f.kb.LiveSessions(), f.kb.DisposedSessions(), executions)
	}
	if f.mgr.ActiveRuntimes() != 0 || f.mgr.ReleasedRuntimes() != executions {
		t.Errorf("service:helpers_test - active runtimes=%d released=%d, want 0/%d", f.mgr.ActiveRuntimes(), f.mgr.ReleasedRuntimes(), executions)
	}
}

// respondWith registers a process that replaces the bound response.
func respondWith(kb *memory.KnowledgeBase, processID, message string, status int) {
	kb.RegisterProcess(processID, func(_ context.Context, pi *memory.ProcessInstance) error {
		pi.SetVariable(VarServiceResponse, model.NewServiceResponse(message, status))
		return nil
	})
}

// emitResponses adds a rule that inserts n responses for every request fact.
func emitResponses(kb *memory.KnowledgeBase, n int) {
	kb.AddRule(memory.Rule{
		Name: "respond",
		When: engine.TypeFilter[*model.ServiceRequest](),
		Then: func(ctx context.Context, s *memory.Session, fact any) error {
			req := fact.(*model.ServiceRequest)
			for i := 0; i < n; i++ {
				if err := s.Insert(ctx, model.NewServiceResponse("rules handled "+req.Method, 200)); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// countingWorkItems records work item signals.
type countingWorkItems struct {
	completed []int64
	outputs   []map[string]any
	aborted   []int64
}

func (c *countingWorkItems) CompleteWorkItem(_ context.Context, id int64, results map[string]any) error {
	c.completed = append(c.completed, id)
	c.outputs = append(c.outputs, results)
	return nil
}

func (c *countingWorkItems) AbortWorkItem(_ context.Context, id int64) error {
	c.aborted = append(c.aborted, id)
	return nil
}

type stubSession struct {
	engine.Session
	wim *countingWorkItems
}

func (s *stubSession) WorkItemManager() engine.WorkItemManager { return s.wim }

func (s *stubSession) AsDisposable() (engine.Disposable, bool) { return nil, false }

type stubTaskService struct {
	executed []engine.Command
}

func (s *stubTaskService) Execute(_ context.Context, cmd engine.Command) error {
	s.executed = append(s.executed, cmd)
	return nil
}

func (s *stubTaskService) Task(context.Context, int64) (*task.Task, error) {
	return nil, task.ErrNotFound
}

type stubRuntime struct {
	session *stubSession
	tasks   engine.TaskService
}

func (r *stubRuntime) Session() engine.Session { return r.session }

func (r *stubRuntime) TaskService() engine.TaskService { return r.tasks }

type stubManager struct {
	rt    *stubRuntime
	corrs []engine.Correlation
}

func (m *stubManager) RuntimeEngine(_ context.Context, corr engine.Correlation) (engine.RuntimeEngine, error) {
	m.corrs = append(m.corrs, corr)
	return m.rt, nil
}

func (m *stubManager) DisposeRuntimeEngine(engine.RuntimeEngine) error { return nil }

func (m *stubManager) KnowledgeBase() engine.KnowledgeBase { return nil }

func (m *stubManager) ExecutionContext() engine.ExecutionContext {
	return engine.NamedContext("stub")
}
