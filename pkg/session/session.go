// Package session runs work against a request-scoped engine runtime and
// guarantees its cleanup.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/morezero/service-dispatcher/pkg/engine"
)

const logPrefix = "session:session"

// Cleanup steps reported in CleanupError.Step.
const (
	StepDisposeSession = "dispose-session"
	StepReleaseRuntime = "release-runtime"
	StepRestoreContext = "restore-context"
)

// PanicError carries a panic recovered from the function run by With.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during execution: %v", e.Value)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// Guard runs fn and returns a panic raised by it as *PanicError.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			slog.Error(fmt.Sprintf("%s - Recovered panic: %v", logPrefix, r))
		}
	}()
	return fn()
}

// CleanupError reports a failed cleanup step. It is logged, never returned.
type CleanupError struct {
	Step string
	Err  error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("session cleanup step %s failed: %v", e.Step, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }

// Func is the work run against an acquired runtime.
type Func[T any] func(ctx context.Context, rt engine.RuntimeEngine) (T, error)

// With installs mgr's execution context, acquires a runtime for corr and
// runs fn. On every exit path the session is disposed through the knowledge
// base (when it exposes a disposable handle), the runtime is released and
// the previous execution context is restored. Each of these steps runs even
// when another fails. The error returned is fn's, never a cleanup failure.
//
// When ctx carries no engine.ContextHolder a fresh one is attached for the
// duration of the call.
func With[T any](ctx context.Context, mgr engine.Manager, corr engine.Correlation, fn Func[T]) (result T, err error) {
	holder, ok := engine.HolderFrom(ctx)
	if !ok {
		holder = engine.NewLocalHolder(nil)
		ctx = engine.WithHolder(ctx, holder)
	}

	previous := holder.Current()
	if err := holder.Set(mgr.ExecutionContext()); err != nil {
		return result, fmt.Errorf("%s - failed to install execution context: %w", logPrefix, err)
	}

	rt, err := mgr.RuntimeEngine(ctx, corr)
	if err != nil {
		restore(holder, previous)
		return result, fmt.Errorf("%s - failed to acquire runtime engine: %w", logPrefix, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
			slog.Error(fmt.Sprintf("%s - Recovered panic: %v", logPrefix, r))
		}
		cleanup(mgr, rt, holder, previous)
	}()

	return fn(ctx, rt)
}

func cleanup(mgr engine.Manager, rt engine.RuntimeEngine, holder engine.ContextHolder, previous engine.ExecutionContext) {
	step(StepDisposeSession, func() error {
		s := rt.Session()
		if s == nil {
			return nil
		}
		d, ok := s.AsDisposable()
		if !ok || d == nil {
			return nil
		}
		kb := mgr.KnowledgeBase()
		if kb == nil {
			return errors.New("no knowledge base to dispose session")
		}
		return kb.DisposeSession(d)
	})
	step(StepReleaseRuntime, func() error {
		return mgr.DisposeRuntimeEngine(rt)
	})
	restore(holder, previous)
}

func restore(holder engine.ContextHolder, previous engine.ExecutionContext) {
	step(StepRestoreContext, func() error {
		return holder.Set(previous)
	})
}

// step runs one cleanup step, turning errors and panics into a logged CleanupError.
func step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logCleanup(&CleanupError{Step: name, Err: fmt.Errorf("panic: %v", r)})
		}
	}()
	if err := fn(); err != nil {
		logCleanup(&CleanupError{Step: name, Err: err})
	}
}

func logCleanup(err *CleanupError) {
	slog.Warn(fmt.Sprintf("%s - %v", logPrefix, err))
}
