package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const processLogPrefix = "memory:process"

// State is the lifecycle state of a process instance.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// WorkItemState is the lifecycle state of a work item.
type WorkItemState string

const (
	WorkItemPending   WorkItemState = "pending"
	WorkItemCompleted WorkItemState = "completed"
	WorkItemAborted   WorkItemState = "aborted"
)

// CompletionHandler continues a process once a work item completes.
type CompletionHandler func(ctx context.Context, pi *ProcessInstance, results map[string]any) error

// WorkItem is a unit of work a process waits on.
type WorkItem struct {
	ID                int64
	Name              string
	ProcessInstanceID int64
	Params            map[string]any
	Results           map[string]any
	State             WorkItemState
	TaskID            int64

	onComplete CompletionHandler
}

// ProcessInstance is a running instantiation of a process definition.
type ProcessInstance struct {
	id        int64
	processID string
	m         *Manager

	mu      sync.Mutex
	vars    map[string]any
	state   State
	pending int
}

var _ engine.ProcessInstance = (*ProcessInstance)(nil)

// ID implements engine.ProcessInstance.
func (pi *ProcessInstance) ID() int64 { return pi.id }

// ProcessID implements engine.ProcessInstance.
func (pi *ProcessInstance) ProcessID() string { return pi.processID }

// Variable implements engine.ProcessInstance.
func (pi *ProcessInstance) Variable(name string) any {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.vars[name]
}

// SetVariable sets a process variable. A nil value removes it.
func (pi *ProcessInstance) SetVariable(name string, value any) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if value == nil {
		delete(pi.vars, name)
		return
	}
	pi.vars[name] = value
}

// State returns the current lifecycle state.
func (pi *ProcessInstance) State() State {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	return pi.state
}

func (pi *ProcessInstance) setState(s State) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.state = s
}

func (pi *ProcessInstance) completeIfIdle() {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	if pi.pending == 0 && pi.state == StateActive {
		pi.state = StateCompleted
	}
}

// CreateHumanTask opens a work item backed by a task in Ready state and
// returns the stored task. onComplete may be nil.
func (pi *ProcessInstance) CreateHumanTask(ctx context.Context, name string, input map[string]any, onComplete CompletionHandler) (*task.Task, error) {
	pi.mu.Lock()
	pi.pending++
	pi.mu.Unlock()

	wi := pi.m.newWorkItem(pi, name, maps.Clone(input), onComplete)
	t, err := pi.m.tasks.Save(ctx, &task.Task{
		Name:              name,
		Status:            task.StatusReady,
		ProcessInstanceID: pi.id,
		WorkItemID:        wi.ID,
		Input:             input,
	})
	if err != nil {
		pi.m.mu.Lock()
		wi.State = WorkItemAborted
		pi.m.mu.Unlock()
		pi.mu.Lock()
		pi.pending--
		pi.mu.Unlock()
		return nil, fmt.Errorf("%s - failed to store task %s: %w", processLogPrefix, name, err)
	}

	pi.m.mu.Lock()
	wi.TaskID = t.ID
	pi.m.mu.Unlock()

	slog.Debug(fmt.Sprintf("%s - Instance %d waits on work item %d (task %d)", processLogPrefix, pi.id, wi.ID, t.ID))
	return t, nil
}

type workItemManager struct {
	m *Manager
}

func (w *workItemManager) CompleteWorkItem(ctx context.Context, id int64, results map[string]any) error {
	wi, pi, err := w.transition(id, WorkItemCompleted, results)
	if err != nil {
		return err
	}
	for k, v := range results {
		pi.SetVariable(k, v)
	}
	if wi.onComplete != nil {
		if err := wi.onComplete(ctx, pi, results); err != nil {
			pi.setState(StateAborted)
			return fmt.Errorf("%s - continuation of work item %d failed: %w", processLogPrefix, id, err)
		}
	}
	w.settle(pi)
	return nil
}

func (w *workItemManager) AbortWorkItem(_ context.Context, id int64) error {
	_, pi, err := w.transition(id, WorkItemAborted, nil)
	if err != nil {
		return err
	}
	w.settle(pi)
	return nil
}

// transition moves a pending work item to the given state.
func (w *workItemManager) transition(id int64, to WorkItemState, results map[string]any) (*WorkItem, *ProcessInstance, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()

	wi, ok := w.m.workItems[id]
	if !ok {
		return nil, nil, fmt.Errorf("%s - %w: %d", processLogPrefix, engine.ErrUnknownWorkItem, id)
	}
	if wi.State != WorkItemPending {
		return nil, nil, fmt.Errorf("%s - work item %d is already %s", processLogPrefix, id, wi.State)
	}
	pi, ok := w.m.instances[wi.ProcessInstanceID]
	if !ok {
		return nil, nil, fmt.Errorf("%s - %w: %d", processLogPrefix, engine.ErrUnknownProcessInstance, wi.ProcessInstanceID)
	}
	wi.State = to
	wi.Results = maps.Clone(results)
	return wi, pi, nil
}

func (w *workItemManager) settle(pi *ProcessInstance) {
	pi.mu.Lock()
	pi.pending--
	pi.mu.Unlock()
	pi.completeIfIdle()
}
