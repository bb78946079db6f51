package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/events"
	"github.com/morezero/service-dispatcher/pkg/model"
	"github.com/morezero/service-dispatcher/pkg/routing"
	"github.com/morezero/service-dispatcher/pkg/session"
)

const executeLogPrefix = "service:execute"

// Process variables bound on every process start.
const (
	VarServiceRequest  = "serviceRequest"
	VarServiceResponse = "serviceResponse"
)

// Execute runs req and returns its single response.
//
// Disallowed methods yield a 405 response and cardinality violations a 400
// response. Any other failure is logged and returned as *ExecutionError.
func (s *Service) Execute(ctx context.Context, req *model.ServiceRequest) (resp *model.ServiceResponse, err error) {
	start := s.now()
	var route routing.Route
	defer func() {
		s.recordExecution(ctx, req, route, resp, err, start)
	}()

	if req == nil {
		return nil, s.fail(errors.New("nil service request"), nil)
	}

	if !s.props.IgnoreScrub() {
		if err := s.scrub(ctx, req); err != nil {
			return nil, s.fail(fmt.Errorf("%s - scrubbing failed: %w", executeLogPrefix, err), req)
		}
	}

	route = routing.Resolve(req.Method, *s.routes.Load())
	if route.Kind == routing.Reject {
		slog.Info(fmt.Sprintf("%s - Method %s not allowed for service %s", executeLogPrefix, methodLabel(req.Method), s.release))
		return model.NewServiceResponse(fmt.Sprintf("Method %s not allowed", req.Method), http.StatusMethodNotAllowed), nil
	}

	resp, err = session.With(ctx, s.manager, engine.NewContext(), func(ctx context.Context, rt engine.RuntimeEngine) (*model.ServiceResponse, error) {
		sess := rt.Session()
		if sess == nil {
			return nil, fmt.Errorf("%s - runtime engine has no session", executeLogPrefix)
		}
		if route.Kind == routing.RunProcess {
			return s.runProcess(ctx, sess, route.ProcessID, req)
		}
		return s.runRules(ctx, sess, req)
	})
	if err != nil {
		return nil, s.fail(err, req)
	}
	return resp, nil
}

// scrub locates and runs the request scrubber. A nil scrubber leaves the
// request untouched.
func (s *Service) scrub(ctx context.Context, req *model.ServiceRequest) error {
	return session.Guard(func() error {
		sc := s.scrubbers.Scrubber(req)
		if sc == nil {
			return nil
		}
		return sc.Scrub(ctx, req)
	})
}

func (s *Service) runProcess(ctx context.Context, sess engine.Session, processID string, req *model.ServiceRequest) (*model.ServiceResponse, error) {
	slog.Info(fmt.Sprintf("%s - Executing process %s for service %s", executeLogPrefix, processID, s.release))

	vars := map[string]any{
		VarServiceRequest:  req,
		VarServiceResponse: model.NewServiceResponse(s.defaultResponseMessage(), http.StatusOK),
	}
	if s.variables != nil {
		extra, err := s.variables.Variables(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s - failed to initialize process variables: %w", executeLogPrefix, err)
		}
		maps.Copy(vars, extra)
	}

	pi, err := sess.StartProcess(ctx, processID, vars)
	if err != nil {
		return nil, err
	}

	var candidates []*model.ServiceResponse
	if r, ok := pi.Variable(VarServiceResponse).(*model.ServiceResponse); ok && r != nil {
		candidates = append(candidates, r)
	}
	return extractSingle(candidates), nil
}

func (s *Service) runRules(ctx context.Context, sess engine.Session, req *model.ServiceRequest) (*model.ServiceResponse, error) {
	slog.Info(fmt.Sprintf("%s - Executing rules directly for service %s", executeLogPrefix, s.release))

	if err := sess.Insert(ctx, req); err != nil {
		return nil, err
	}
	fired, err := sess.FireAllRules(ctx)
	if err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - Fired %d rules for request %s", executeLogPrefix, fired, req.ID))

	objs := sess.Objects(engine.TypeFilter[*model.ServiceResponse]())
	candidates := make([]*model.ServiceResponse, 0, len(objs))
	for _, o := range objs {
		candidates = append(candidates, o.(*model.ServiceResponse))
	}
	return extractSingle(candidates), nil
}

// fail logs err with full detail and converts it to an *ExecutionError.
func (s *Service) fail(err error, req *model.ServiceRequest) *ExecutionError {
	ee := newExecutionError(err)
	requestID := ""
	if req != nil {
		requestID = req.ID
	}
	slog.Error(fmt.Sprintf("%s - Problem executing service %s request %s (%s): %v",
		executeLogPrefix, s.release, requestID, ee.Kind, ee.Err))

	var pe *session.PanicError
	if errors.As(err, &pe) {
		slog.Error(fmt.Sprintf("%s - Panic stack:\n%s", executeLogPrefix, pe.Stack))
	}
	return ee
}

func (s *Service) recordExecution(ctx context.Context, req *model.ServiceRequest, route routing.Route, resp *model.ServiceResponse, err error, start time.Time) {
	if !s.logExec {
		return
	}
	event := &events.ExecutionEvent{
		Release:    s.release.String(),
		Artifact:   s.release.Artifact,
		Category:   s.Category(),
		Route:      route.Kind.String(),
		ProcessID:  route.ProcessID,
		DurationMs: s.now().Sub(start).Milliseconds(),
		Timestamp:  start.UTC().Format(time.RFC3339),
	}
	if req != nil {
		event.RequestID = req.ID
		event.Method = req.Method
		event.Path = req.Path
	}
	if resp != nil {
		event.Status = resp.Status
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		event.ErrorKind = ee.Kind
	}
	if pubErr := s.publisher.PublishExecution(ctx, event); pubErr != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to publish execution event: %v", executeLogPrefix, pubErr))
	}
}
