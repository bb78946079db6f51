package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/session"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const taskLogPrefix = "service:task"

// UpdateTask stores an externally updated task and signals its work item:
// Completed completes it with the task output, Exited aborts it, any other
// status signals nothing.
//
// The runtime acquired for the task's process instance is not disposed and
// no execution context is installed. Callers issuing many updates are
// responsible for releasing runtimes through the engine manager.
func (s *Service) UpdateTask(ctx context.Context, t *task.Task) error {
	if t == nil {
		return s.failTask(errors.New("nil task"), 0)
	}

	rt, err := s.manager.RuntimeEngine(ctx, engine.ForProcessInstance(t.ProcessInstanceID))
	if err != nil {
		return s.failTask(err, t.ID)
	}

	ts := rt.TaskService()
	if ts == nil {
		slog.Warn(fmt.Sprintf("%s - No task service for process instance %d, task %d not updated", taskLogPrefix, t.ProcessInstanceID, t.ID))
		return nil
	}
	if err := ts.Execute(ctx, engine.UpdateTaskCommand{Task: t}); err != nil {
		return s.failTask(err, t.ID)
	}

	switch t.Status {
	case task.StatusCompleted, task.StatusExited:
	default:
		slog.Debug(fmt.Sprintf("%s - Task %d updated to %s", taskLogPrefix, t.ID, t.Status))
		return nil
	}

	sess := rt.Session()
	if sess == nil {
		return s.failTask(fmt.Errorf("%s - runtime engine has no session", taskLogPrefix), t.ID)
	}
	wim := sess.WorkItemManager()

	if t.Status == task.StatusCompleted {
		err = wim.CompleteWorkItem(ctx, t.WorkItemID, t.Output)
	} else {
		err = wim.AbortWorkItem(ctx, t.WorkItemID)
	}
	if err != nil {
		return s.failTask(err, t.ID)
	}

	slog.Info(fmt.Sprintf("%s - Task %d %s, work item %d signalled", taskLogPrefix, t.ID, t.Status, t.WorkItemID))
	return nil
}

// GetTask reads a task through the task service of a fresh runtime.
// A missing task yields an error matching task.ErrNotFound.
func (s *Service) GetTask(ctx context.Context, id int64) (*task.Task, error) {
	return session.With(ctx, s.manager, engine.NewContext(), func(ctx context.Context, rt engine.RuntimeEngine) (*task.Task, error) {
		ts := rt.TaskService()
		if ts == nil {
			return nil, fmt.Errorf("%s - runtime engine has no task service", taskLogPrefix)
		}
		t, err := ts.Task(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to get task %d: %w", taskLogPrefix, id, err)
		}
		return t, nil
	})
}

func (s *Service) failTask(err error, taskID int64) *ExecutionError {
	ee := newExecutionError(err)
	slog.Error(fmt.Sprintf("%s - Problem updating task %d for service %s (%s): %v", taskLogPrefix, taskID, s.release, ee.Kind, ee.Err))
	return ee
}
