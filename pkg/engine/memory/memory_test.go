package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const memoryTestPrefix = "memory:memory_test"

// scoped returns a context whose worker has the manager's execution context installed.
func scoped(m *Manager) context.Context {
	return engine.WithHolder(context.Background(), engine.NewLocalHolder(m.ExecutionContext()))
}

func acquire(t *testing.T, m *Manager, corr engine.Correlation) *Runtime {
	t.Helper()
	rt, err := m.RuntimeEngine(context.Background(), corr)
	if err != nil {
		t.Fatalf("%s - RuntimeEngine failed: %v", memoryTestPrefix, err)
	}
	return rt.(*Runtime)
}

func TestStartProcess_RequiresExecutionContext(t *testing.T) {
	kb := NewKnowledgeBase("kb-1")
	kb.RegisterProcess("p", func(context.Context, *ProcessInstance) error { return nil })
	m := NewManager(kb, nil)
	rt := acquire(t, m, engine.NewContext())

	_, err := rt.Session().StartProcess(context.Background(), "p", nil)
	if !errors.Is(err, engine.ErrUnknownProcess) {
		t.Fatalf("%s - expected ErrUnknownProcess without context, got %v", memoryTestPrefix, err)
	}

	foreign := engine.WithHolder(context.Background(), engine.NewLocalHolder(engine.NamedContext("other")))
	_, err = rt.Session().StartProcess(foreign, "p", nil)
	if !errors.Is(err, engine.ErrUnknownProcess) {
		t.Fatalf("%s - expected ErrUnknownProcess with foreign context, got %v", memoryTestPrefix, err)
	}

	if _, err := rt.Session().StartProcess(scoped(m), "missing", nil); !errors.Is(err, engine.ErrUnknownProcess) {
		t.Fatalf("%s - expected ErrUnknownProcess for missing definition, got %v", memoryTestPrefix, err)
	}
}

func TestStartProcess_Variables(t *testing.T) {
	kb := NewKnowledgeBase("kb-1")
	kb.RegisterProcess("greet", func(_ context.Context, pi *ProcessInstance) error {
		name, _ := pi.Variable("name").(string)
		pi.SetVariable("greeting", "hello "+name)
		return nil
	})
	m := NewManager(kb, nil)
	rt := acquire(t, m, engine.NewContext())

	vars := map[string]any{"name": "ada"}
	pi, err := rt.Session().StartProcess(scoped(m), "greet", vars)
	if err != nil {
		t.Fatalf("%s - StartProcess failed: %v", memoryTestPrefix, err)
	}
	if got := pi.Variable("greeting"); got != "hello ada" {
		t.Errorf("%s - greeting = %v", memoryTestPrefix, got)
	}
	if _, ok := vars["greeting"]; ok {
		t.Errorf("%s - caller bindings were mutated", memoryTestPrefix)
	}
	if pi.(*ProcessInstance).State() != StateCompleted {
		t.Errorf("%s - expected completed state", memoryTestPrefix)
	}
}

func TestStartProcess_FailureAborts(t *testing.T) {
	kb := NewKnowledgeBase("kb-1")
	boom := errors.New("boom")
	kb.RegisterProcess("fail", func(context.Context, *ProcessInstance) error { return boom })
	m := NewManager(kb, nil)
	rt := acquire(t, m, engine.NewContext())

	pi, err := rt.Session().StartProcess(scoped(m), "fail", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("%s - expected boom, got %v", memoryTestPrefix, err)
	}
	if pi.(*ProcessInstance).State() != StateAborted {
		t.Errorf("%s - expected aborted state", memoryTestPrefix)
	}
}

func TestHumanTask_CompleteResumesInstance(t *testing.T) {
	kb := NewKnowledgeBase("kb-1")
	resumed := 0
	kb.RegisterProcess("approval", func(ctx context.Context, pi *ProcessInstance) error {
		_, err := pi.CreateHumanTask(ctx, "approve", map[string]any{"amount": 10}, func(_ context.Context, pi *ProcessInstance, results map[string]any) error {
			resumed++
			return nil
		})
		return err
	})
	store := task.NewMemoryStore()
	m := NewManager(kb, store)
	rt := acquire(t, m, engine.NewContext())

	pi, err := rt.Session().StartProcess(scoped(m), "approval", nil)
	if err != nil {
		t.Fatalf("%s - StartProcess failed: %v", memoryTestPrefix, err)
	}
	inst := pi.(*ProcessInstance)
	if inst.State() != StateActive {
		t.Fatalf("%s - expected active instance while waiting, got %s", memoryTestPrefix, inst.State())
	}

	tasks, _ := store.ListByProcessInstance(context.Background(), pi.ID())
	if len(tasks) != 1 || tasks[0].Status != task.StatusReady {
		t.Fatalf("%s - expected one ready task, got %+v", memoryTestPrefix, tasks)
	}

	resume := acquire(t, m, engine.ForProcessInstance(pi.ID()))
	wim := resume.Session().WorkItemManager()
	if err := wim.CompleteWorkItem(context.Background(), tasks[0].WorkItemID, map[string]any{"approved": true}); err != nil {
		t.Fatalf("%s - CompleteWorkItem failed: %v", memoryTestPrefix, err)
	}
	if resumed != 1 {
		t.Errorf("%s - continuation ran %d times, want 1", memoryTestPrefix, resumed)
	}
	if inst.Variable("approved") != true {
		t.Errorf("%s - results not merged into variables", memoryTestPrefix)
	}
	if inst.State() != StateCompleted {
		t.Errorf("%s - expected completed instance, got %s", memoryTestPrefix, inst.State())
	}
	wi, _ := m.WorkItem(tasks[0].WorkItemID)
	if wi.State != WorkItemCompleted || wi.TaskID != tasks[0].ID {
		t.Errorf("%s - unexpected work item %+v", memoryTestPrefix, wi)
	}

	if err := wim.CompleteWorkItem(context.Background(), tasks[0].WorkItemID, nil); err == nil {
		t.Errorf("%s - expected error completing twice", memoryTestPrefix)
	}
	if err := wim.AbortWorkItem(context.Background(), 999); !errors.Is(err, engine.ErrUnknownWorkItem) {
		t.Errorf("%s - expected ErrUnknownWorkItem, got %v", memoryTestPrefix, err)
	}
}

func TestHumanTask_Abort(t *testing.T) {
	kb := NewKnowledgeBase("kb-1")
	kb.RegisterProcess("approval", func(ctx context.Context, pi *ProcessInstance) error {
		_, err := pi.CreateHumanTask(ctx, "approve", nil, nil)
		return err
	})
	m := NewManager(kb, nil)
	rt := acquire(t, m, engine.NewContext())
	pi, err := rt.Session().StartProcess(scoped(m), "approval", nil)
	if err != nil {
		t.Fatalf("%s - StartProcess failed: %v", memoryTestPrefix, err)
	}

	if err := rt.Session().WorkItemManager().AbortWorkItem(context.Background(), 1); err != nil {
		t.Fatalf("%s - AbortWorkItem failed: %v", memoryTestPrefix, err)
	}
	wi, _ := m.WorkItem(1)
	if wi.State != WorkItemAborted {
		t.Errorf("%s - expected aborted work item, got %s", memoryTestPrefix, wi.State)
	}
	if pi.(*ProcessInstance).State() != StateCompleted {
		t.Errorf("%s - expected instance to settle after abort", memoryTestPrefix)
	}
}

type order struct{ total int }
type invoice struct{ amount int }

func TestFireAllRules_Chaining(t *testing.T) {
	kb := NewKnowledgeBase("kb-1")
	kb.AddRule(Rule{
		Name: "order to invoice",
		When: func(f any) bool { _, ok := f.(*order); return ok },
		Then: func(ctx context.Context, s *Session, f any) error {
			return s.Insert(ctx, &invoice{amount: f.(*order).total * 2})
		},
	})
	kb.AddRule(Rule{
		Name: "count invoices",
		When: func(f any) bool { _, ok := f.(*invoice); return ok },
	})
	m := NewManager(kb, nil)
	s := acquire(t, m, engine.NewContext()).Session()

	ctx := context.Background()
	_ = s.Insert(ctx, &order{total: 3})
	_ = s.Insert(ctx, &order{total: 5})
	_ = s.Insert(ctx, "ignored")

	fired, err := s.FireAllRules(ctx)
	if err != nil {
		t.Fatalf("%s - FireAllRules failed: %v", memoryTestPrefix, err)
	}
	if fired != 4 {
		t.Errorf("%s - fired = %d, want 4", memoryTestPrefix, fired)
	}
	invoices := s.Objects(engine.TypeFilter[*invoice]())
	if len(invoices) != 2 || invoices[0].(*invoice).amount != 6 || invoices[1].(*invoice).amount != 10 {
		t.Errorf("%s - unexpected invoices %v", memoryTestPrefix, invoices)
	}

	again, err := s.FireAllRules(ctx)
	if err != nil || again != 0 {
		t.Errorf("%s - second FireAllRules = %d, %v; want 0, nil", memoryTestPrefix, again, err)
	}
	if all := s.Objects(nil); len(all) != 5 {
		t.Errorf("%s - expected 5 facts, got %d", memoryTestPrefix, len(all))
	}
}

func TestFireAllRules_Overflow(t *testing.T) {
	kb := NewKnowledgeBase("kb-1")
	kb.AddRule(Rule{
		Name: "runaway",
		When: func(f any) bool { _, ok := f.(int); return ok },
		Then: func(ctx context.Context, s *Session, f any) error { return s.Insert(ctx, f.(int)+1) },
	})
	m := NewManager(kb, nil)
	s := acquire(t, m, engine.NewContext()).Session()
	_ = s.Insert(context.Background(), 0)

	if _, err := s.FireAllRules(context.Background()); !errors.Is(err, ErrAgendaOverflow) {
		t.Fatalf("%s - expected ErrAgendaOverflow, got %v", memoryTestPrefix, err)
	}
}

func TestLifecycle_DisposeAndRelease(t *testing.T) {
	kb := NewKnowledgeBase("kb-1")
	m := NewManager(kb, nil)
	rt := acquire(t, m, engine.NewContext())

	if kb.LiveSessions() != 1 || m.ActiveRuntimes() != 1 {
		t.Fatalf("%s - expected one live session and runtime", memoryTestPrefix)
	}

	d, ok := rt.Session().AsDisposable()
	if !ok {
		t.Fatalf("%s - session should be disposable", memoryTestPrefix)
	}
	if err := m.KnowledgeBase().DisposeSession(d); err != nil {
		t.Fatalf("%s - DisposeSession failed: %v", memoryTestPrefix, err)
	}
	if err := m.KnowledgeBase().DisposeSession(d); err == nil {
		t.Errorf("%s - expected error disposing twice", memoryTestPrefix)
	}
	if err := rt.Session().Insert(context.Background(), 1); !errors.Is(err, engine.ErrSessionDisposed) {
		t.Errorf("%s - expected ErrSessionDisposed, got %v", memoryTestPrefix, err)
	}

	if err := m.DisposeRuntimeEngine(rt); err != nil {
		t.Fatalf("%s - DisposeRuntimeEngine failed: %v", memoryTestPrefix, err)
	}
	if err := m.DisposeRuntimeEngine(rt); err == nil {
		t.Errorf("%s - expected error releasing twice", memoryTestPrefix)
	}
	if kb.LiveSessions() != 0 || kb.DisposedSessions() != 1 || m.ActiveRuntimes() != 0 || m.ReleasedRuntimes() != 1 {
		t.Errorf("%s - unexpected counters live=%d disposed=%d active=%d released=%d",
			memoryTestPrefix, kb.LiveSessions(), kb.DisposedSessions(), m.ActiveRuntimes(), m.ReleasedRuntimes())
	}
}

func TestRuntimeEngine_UnknownInstance(t *testing.T) {
	m := NewManager(NewKnowledgeBase("kb-1"), nil)
	if _, err := m.RuntimeEngine(context.Background(), engine.ForProcessInstance(77)); !errors.Is(err, engine.ErrUnknownProcessInstance) {
		t.Fatalf("%s - expected ErrUnknownProcessInstance, got %v", memoryTestPrefix, err)
	}
}

func TestTaskService_UpdateTask(t *testing.T) {
	store := task.NewMemoryStore()
	m := NewManager(NewKnowledgeBase("kb-1"), store)
	ctx := context.Background()
	saved, _ := store.Save(ctx, &task.Task{Name: "t", Status: task.StatusReady})

	ts := acquire(t, m, engine.NewContext()).TaskService()
	saved.Status = task.StatusInProgress
	if err := ts.Execute(ctx, engine.UpdateTaskCommand{Task: saved}); err != nil {
		t.Fatalf("%s - Execute failed: %v", memoryTestPrefix, err)
	}
	got, err := ts.Task(ctx, saved.ID)
	if err != nil || got.Status != task.StatusInProgress {
		t.Errorf("%s - Task = %+v, %v", memoryTestPrefix, got, err)
	}
	if err := ts.Execute(ctx, engine.UpdateTaskCommand{}); err == nil {
		t.Errorf("%s - expected error for nil task", memoryTestPrefix)
	}
}

func TestKnowledgeBase_ProcessIDs(t *testing.T) {
	kb := NewKnowledgeBase("kb")
	if ids := kb.ProcessIDs(); len(ids) != 0 {
		t.Errorf("%s - empty knowledge base ids = %v", memoryTestPrefix, ids)
	}
	noop := func(context.Context, *ProcessInstance) error { return nil }
	kb.RegisterProcess("review", noop)
	kb.RegisterProcess("approve", noop)
	kb.RegisterProcess("review", noop)

	ids := kb.ProcessIDs()
	if len(ids) != 2 || ids[0] != "approve" || ids[1] != "review" {
		t.Errorf("%s - ProcessIDs = %v, want [approve review]", memoryTestPrefix, ids)
	}
}

func TestRuntime_Correlation(t *testing.T) {
	m := NewManager(NewKnowledgeBase("kb"), nil)
	rt := acquire(t, m, engine.NewContext())
	if !rt.Correlation().IsNew() {
		t.Errorf("%s - fresh runtime correlation = %+v", memoryTestPrefix, rt.Correlation())
	}

	pi := m.newInstance("p", map[string]any{})
	bound := acquire(t, m, engine.ForProcessInstance(pi.ID()))
	if got := bound.Correlation(); got.IsNew() || got.ProcessInstanceID != pi.ID() {
		t.Errorf("%s - bound runtime correlation = %+v", memoryTestPrefix, got)
	}
}
