package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/morezero/service-dispatcher/pkg/commsutil"
	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/model"
	"github.com/morezero/service-dispatcher/pkg/service"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const logPrefix = "dispatcher:dispatch"

// Service is the set of operations the dispatcher exposes.
type Service interface {
	Execute(ctx context.Context, req *model.ServiceRequest) (*model.ServiceResponse, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id int64) (*task.Task, error)
	AvailableMethods() []string
	Info() *service.Info
	Health(ctx context.Context) *service.HealthOutput
}

// Dispatcher routes COMMS requests to service operations.
type Dispatcher struct {
	svc Service
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(svc Service) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// Dispatch routes a request to the matching service operation and returns a response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.ID))

	switch req.Method {
	case MethodExecute:
		return d.handleExecute(ctx, req)
	case MethodUpdateTask:
		return d.handleUpdateTask(ctx, req)
	case MethodGetTask:
		return d.handleGetTask(ctx, req)
	case MethodAvailableMethods:
		return &Response{ID: req.ID, Ok: true, Result: &MethodsResult{Methods: d.svc.AvailableMethods()}}
	case MethodDescribe:
		return &Response{ID: req.ID, Ok: true, Result: d.svc.Info()}
	case MethodHealth:
		return &Response{ID: req.ID, Ok: true, Result: d.svc.Health(ctx)}
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method), false)
	}
}

func (d *Dispatcher) handleExecute(ctx context.Context, req *Request) *Response {
	var input model.ServiceRequest
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse execute params", false)
	}
	if input.ID == "" && req.Ctx != nil {
		input.ID = req.Ctx.RequestID
	}
	if input.ID == "" {
		input.ID = req.ID
	}

	result, err := d.svc.Execute(ctx, &input)
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: result}
}

func (d *Dispatcher) handleUpdateTask(ctx context.Context, req *Request) *Response {
	var input task.Task
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse updateTask params", false)
	}
	if input.ID == 0 || input.ProcessInstanceID == 0 {
		return errorResponse(req.ID, CodeInvalidArgument, "Task id and processInstanceId are required", false)
	}

	if err := d.svc.UpdateTask(ctx, &input); err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: &UpdateTaskResult{ID: input.ID, Status: string(input.Status)}}
}

func (d *Dispatcher) handleGetTask(ctx context.Context, req *Request) *Response {
	var input GetTaskParams
	if err := json.Unmarshal(req.Params, &input); err != nil {
		return errorResponse(req.ID, CodeInvalidArgument, "Failed to parse getTask params", false)
	}
	if input.ID == 0 {
		return errorResponse(req.ID, CodeInvalidArgument, "Task id is required", false)
	}

	result, err := d.svc.GetTask(ctx, input.ID)
	if err != nil {
		return serviceErrorToResponse(req.ID, err)
	}
	return &Response{ID: req.ID, Ok: true, Result: result}
}

// MsgHandler returns a COMMS handler that decodes requests, dispatches them
// under a per-request timeout derived from parent and replies.
func (d *Dispatcher) MsgHandler(parent context.Context, timeout time.Duration) comms.MsgHandler {
	return func(msg *comms.Msg) {
		var req Request
		if err := commsutil.DecodePayload(msg.Data, &req); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to decode request: %v", logPrefix, err))
			respond(msg, errorResponse("", CodeInvalidRequest, "Failed to decode request", false))
			return
		}

		reqCtx, cancel := context.WithTimeout(parent, requestTimeout(req.Ctx, timeout))
		defer cancel()

		respond(msg, d.Dispatch(reqCtx, &req))
	}
}

// requestTimeout honors a caller deadline shorter than the default.
func requestTimeout(ic *InvocationContext, def time.Duration) time.Duration {
	if ic == nil {
		return def
	}
	ms := ic.DeadlineMs
	if ms <= 0 {
		ms = ic.TimeoutMs
	}
	if ms > 0 && time.Duration(ms)*time.Millisecond < def {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func respond(msg *comms.Msg, resp *Response) {
	if err := commsutil.Reply(msg, resp); err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to respond on %s: %v", logPrefix, msg.Subject, err))
	}
}

// --- helpers ---

func errorResponse(id, code, message string, retryable bool) *Response {
	return &Response{
		ID: id,
		Ok: false,
		Error: &ErrorDetail{
			Code:      code,
			Message:   message,
			Retryable: retryable,
		},
	}
}

func serviceErrorToResponse(id string, err error) *Response {
	var execErr *service.ExecutionError
	isExec := errors.As(err, &execErr)

	if errors.Is(err, task.ErrNotFound) || errors.Is(err, engine.ErrUnknownProcessInstance) {
		resp := errorResponse(id, CodeNotFound, err.Error(), false)
		if isExec {
			resp.Error.Details = map[string]string{"kind": execErr.Kind}
		}
		return resp
	}
	if isExec {
		resp := errorResponse(id, CodeExecutionError, execErr.Error(), false)
		resp.Error.Details = map[string]string{"kind": execErr.Kind}
		return resp
	}
	return errorResponse(id, CodeInternalError, err.Error(), true)
}
