package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/task"
)

// ExecutionError is returned to callers when a service request or task
// update fails inside the engine. Its message never carries internal detail;
// the cause is kept for logging and errors.Is/As.
type ExecutionError struct {
	// Kind names the failure, e.g. "UnknownProcess" or "PanicError".
	Kind string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("The execution of the service encountered an error of type %s and stopped. "+
		"Further information can be found in the server logs. Contact your system administrator.", e.Kind)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

var sentinelKinds = []struct {
	err  error
	kind string
}{
	{engine.ErrUnknownProcess, "UnknownProcess"},
	{engine.ErrUnknownProcessInstance, "UnknownProcessInstance"},
	{engine.ErrUnknownWorkItem, "UnknownWorkItem"},
	{engine.ErrSessionDisposed, "SessionDisposed"},
	{task.ErrNotFound, "TaskNotFound"},
	{context.DeadlineExceeded, "DeadlineExceeded"},
	{context.Canceled, "Canceled"},
}

// kindOf names err for ExecutionError.Kind. Known sentinels take precedence,
// then the innermost typed error outside the errors and fmt packages.
func kindOf(err error) string {
	for _, s := range sentinelKinds {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	kind := "Error"
	for e := err; e != nil; e = errors.Unwrap(e) {
		t := reflect.TypeOf(e)
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if pkg := t.PkgPath(); pkg != "errors" && pkg != "fmt" && t.Name() != "" {
			kind = t.Name()
		}
	}
	return kind
}

func newExecutionError(err error) *ExecutionError {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee
	}
	return &ExecutionError{Kind: kindOf(err), Err: err}
}
