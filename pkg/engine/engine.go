// Package engine defines the contract of the rule/workflow engine runtime consumed by services.
//
// The dispatcher never inspects concrete engine types. Everything it needs
// (session disposal, work item signalling, task commands) is reachable
// through the interfaces below.
package engine

import (
	"context"
	"errors"

	"github.com/morezero/service-dispatcher/pkg/task"
)

var (
	// ErrUnknownProcess is returned when a process definition cannot be resolved.
	ErrUnknownProcess = errors.New("unknown process definition")
	// ErrUnknownProcessInstance is returned when a correlation names a missing instance.
	ErrUnknownProcessInstance = errors.New("unknown process instance")
	// ErrUnknownWorkItem is returned when a work item signal targets a missing item.
	ErrUnknownWorkItem = errors.New("unknown work item")
	// ErrSessionDisposed is returned by sessions used after disposal.
	ErrSessionDisposed = errors.New("session disposed")
)

// Correlation scopes a runtime engine. A zero ProcessInstanceID means a fresh context.
type Correlation struct {
	ProcessInstanceID int64
}

// NewContext returns a correlation for a fresh runtime.
func NewContext() Correlation {
	return Correlation{}
}

// ForProcessInstance returns a correlation bound to an existing process instance.
func ForProcessInstance(id int64) Correlation {
	return Correlation{ProcessInstanceID: id}
}

// IsNew reports whether the correlation starts a fresh context.
func (c Correlation) IsNew() bool {
	return c.ProcessInstanceID == 0
}

// Manager hands out runtime engines and owns their lifecycle.
type Manager interface {
	RuntimeEngine(ctx context.Context, corr Correlation) (RuntimeEngine, error)
	DisposeRuntimeEngine(rt RuntimeEngine) error
	KnowledgeBase() KnowledgeBase
	ExecutionContext() ExecutionContext
}

// RuntimeEngine groups the session and task service for one correlation.
// Either accessor may return nil when the engine does not provide it.
type RuntimeEngine interface {
	Session() Session
	TaskService() TaskService
}

// Session is the working memory and process engine of one runtime.
type Session interface {
	StartProcess(ctx context.Context, processID string, vars map[string]any) (ProcessInstance, error)
	Insert(ctx context.Context, fact any) error
	FireAllRules(ctx context.Context) (int, error)
	Objects(filter ObjectFilter) []any
	WorkItemManager() WorkItemManager
	// AsDisposable returns the stateful handle the knowledge base disposes, if any.
	AsDisposable() (Disposable, bool)
}

// Disposable is a stateful session handle owned by a knowledge base.
type Disposable interface {
	SessionID() string
}

// KnowledgeBase owns stateful sessions.
type KnowledgeBase interface {
	DisposeSession(d Disposable) error
}

// ProcessInstance is a running or completed process.
type ProcessInstance interface {
	ID() int64
	ProcessID() string
	Variable(name string) any
}

// WorkItemManager signals work items of process instances.
type WorkItemManager interface {
	CompleteWorkItem(ctx context.Context, id int64, results map[string]any) error
	AbortWorkItem(ctx context.Context, id int64) error
}

// TaskService executes task commands.
type TaskService interface {
	Execute(ctx context.Context, cmd Command) error
	Task(ctx context.Context, id int64) (*task.Task, error)
}

// Command is a task service command.
type Command interface {
	Name() string
}

// UpdateTaskCommand stores an externally updated task.
type UpdateTaskCommand struct {
	Task *task.Task
}

// Name implements Command.
func (UpdateTaskCommand) Name() string { return "UpdateTask" }

// ObjectFilter selects working memory objects.
type ObjectFilter func(obj any) bool

// TypeFilter selects objects of type T.
func TypeFilter[T any]() ObjectFilter {
	return func(obj any) bool {
		_, ok := obj.(T)
		return ok
	}
}
