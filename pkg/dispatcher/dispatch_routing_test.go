package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/morezero/service-dispatcher/pkg/engine"
	"github.com/morezero/service-dispatcher/pkg/model"
	"github.com/morezero/service-dispatcher/pkg/service"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const routingTestPrefix = "dispatcher:dispatch_routing_test"

// fakeService records calls and returns canned results.
type fakeService struct {
	execReq    *model.ServiceRequest
	execResp   *model.ServiceResponse
	execErr    error
	updated    *task.Task
	updateErr  error
	gotTaskID  int64
	task       *task.Task
	getTaskErr error
	methods    []string
}

func (f *fakeService) Execute(_ context.Context, req *model.ServiceRequest) (*model.ServiceResponse, error) {
	f.execReq = req
	return f.execResp, f.execErr
}

func (f *fakeService) UpdateTask(_ context.Context, t *task.Task) error {
	f.updated = t
	return f.updateErr
}

func (f *fakeService) GetTask(_ context.Context, id int64) (*task.Task, error) {
	f.gotTaskID = id
	return f.task, f.getTaskErr
}

func (f *fakeService) AvailableMethods() []string { return f.methods }

func (f *fakeService) Info() *service.Info {
	return &service.Info{Release: "org.acme:claims:1.2.0", AvailableMethods: f.methods}
}

func (f *fakeService) Health(context.Context) *service.HealthOutput {
	return &service.HealthOutput{Status: "healthy", Release: "org.acme:claims:1.2.0"}
}

func dispatch(t *testing.T, svc *fakeService, method, params string, ic *InvocationContext) *Response {
	t.Helper()
	return NewDispatcher(svc).Dispatch(context.Background(), &Request{
		ID:     "req-1",
		Method: method,
		Params: json.RawMessage(params),
		Ctx:    ic,
	})
}

func TestDispatch_UnknownMethod(t *testing.T) {
	resp := dispatch(t, &fakeService{}, "nonexistent", `{}`, nil)

	if resp.Ok {
		t.Errorf("%s - expected Ok=false for unknown method", routingTestPrefix)
	}
	if resp.ID != "req-1" {
		t.Errorf("%s - expected ID=req-1, got %s", routingTestPrefix, resp.ID)
	}
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("%s - expected METHOD_NOT_FOUND, got %+v", routingTestPrefix, resp.Error)
	}
	if resp.Error.Retryable {
		t.Errorf("%s - METHOD_NOT_FOUND should not be retryable", routingTestPrefix)
	}
}

func TestDispatch_UnknownMethodPreservesRequestID(t *testing.T) {
	disp := NewDispatcher(&fakeService{})

	for _, id := range []string{"req-1", "req-2", "unique-abc-123", ""} {
		resp := disp.Dispatch(context.Background(), &Request{ID: id, Method: "unknown", Params: json.RawMessage(`{}`)})
		if resp.ID != id {
			t.Errorf("%s - expected ID=%q, got %q", routingTestPrefix, id, resp.ID)
		}
	}
}

func TestDispatch_Execute(t *testing.T) {
	svc := &fakeService{execResp: model.NewServiceResponse("done", 200)}
	resp := dispatch(t, svc, MethodExecute, `{"method":"POST","path":"/claims","body":{"amount":3}}`, nil)

	if !resp.Ok {
		t.Fatalf("%s - expected ok, got %+v", routingTestPrefix, resp.Error)
	}
	got, ok := resp.Result.(*model.ServiceResponse)
	if !ok || got.Message != "done" || got.Status != 200 {
		t.Errorf("%s - unexpected result %#v", routingTestPrefix, resp.Result)
	}
	if svc.execReq.Method != "POST" || svc.execReq.Path != "/claims" || string(svc.execReq.Body) != `{"amount":3}` {
		t.Errorf("%s - request not decoded: %+v", routingTestPrefix, svc.execReq)
	}
}

func TestDispatch_ExecuteRequestID(t *testing.T) {
	tests := []struct {
		name   string
		params string
		ic     *InvocationContext
		want   string
	}{
		{name: "from params", params: `{"id":"p-1"}`, ic: &InvocationContext{RequestID: "c-1"}, want: "p-1"},
		{name: "from invocation context", params: `{}`, ic: &InvocationContext{RequestID: "c-1"}, want: "c-1"},
		{name: "from envelope", params: `{}`, want: "req-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{execResp: model.NewServiceResponse("ok", 200)}
			dispatch(t, svc, MethodExecute, tt.params, tt.ic)
			if svc.execReq.ID != tt.want {
				t.Errorf("%s - request id = %q, want %q", routingTestPrefix, svc.execReq.ID, tt.want)
			}
		})
	}
}

func TestDispatch_ExecuteErrors(t *testing.T) {
	execErr := &service.ExecutionError{Kind: "UnknownProcess", Err: engine.ErrUnknownProcess}

	tests := []struct {
		name      string
		err       error
		wantCode  string
		wantKind  string
		retryable bool
	}{
		{name: "execution error", err: execErr, wantCode: CodeExecutionError, wantKind: "UnknownProcess"},
		{name: "wrapped execution error", err: fmt.Errorf("outer: %w", execErr), wantCode: CodeExecutionError, wantKind: "UnknownProcess"},
		{name: "task not found", err: &service.ExecutionError{Kind: "TaskNotFound", Err: task.ErrNotFound}, wantCode: CodeNotFound, wantKind: "TaskNotFound"},
		{name: "generic error", err: errors.New("boom"), wantCode: CodeInternalError, retryable: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatch(t, &fakeService{execErr: tt.err}, MethodExecute, `{}`, nil)
			if resp.Ok || resp.Error == nil {
				t.Fatalf("%s - expected error response", routingTestPrefix)
			}
			if resp.Error.Code != tt.wantCode {
				t.Errorf("%s - code = %s, want %s", routingTestPrefix, resp.Error.Code, tt.wantCode)
			}
			if resp.Error.Retryable != tt.retryable {
				t.Errorf("%s - retryable = %v, want %v", routingTestPrefix, resp.Error.Retryable, tt.retryable)
			}
			if tt.wantKind != "" {
				details, ok := resp.Error.Details.(map[string]string)
				if !ok || details["kind"] != tt.wantKind {
					t.Errorf("%s - details = %#v, want kind %s", routingTestPrefix, resp.Error.Details, tt.wantKind)
				}
			}
		})
	}
}

func TestDispatch_ExecutionErrorMessageIsSanitized(t *testing.T) {
	execErr := &service.ExecutionError{Kind: "PanicError", Err: errors.New("secret stack detail")}
	resp := dispatch(t, &fakeService{execErr: execErr}, MethodExecute, `{}`, nil)
	if resp.Error == nil || resp.Error.Message != execErr.Error() {
		t.Fatalf("%s - expected sanitized message, got %+v", routingTestPrefix, resp.Error)
	}
}

func TestDispatch_UpdateTask(t *testing.T) {
	svc := &fakeService{}
	resp := dispatch(t, svc, MethodUpdateTask,
		`{"id":4,"processInstanceId":2,"workItemId":9,"status":"completed","output":{"approved":true}}`, nil)

	if !resp.Ok {
		t.Fatalf("%s - expected ok, got %+v", routingTestPrefix, resp.Error)
	}
	if svc.updated == nil || svc.updated.Status != task.StatusCompleted || svc.updated.Output["approved"] != true {
		t.Errorf("%s - task not decoded: %+v", routingTestPrefix, svc.updated)
	}
	res, ok := resp.Result.(*UpdateTaskResult)
	if !ok || res.ID != 4 || res.Status != "Completed" {
		t.Errorf("%s - unexpected result %#v", routingTestPrefix, resp.Result)
	}
}

func TestDispatch_UpdateTaskErrors(t *testing.T) {
	tests := []struct {
		name     string
		params   string
		err      error
		wantCode string
	}{
		{name: "bad json", params: `{"id":`, wantCode: CodeInvalidArgument},
		{name: "unknown status", params: `{"id":1,"processInstanceId":1,"status":"Nope"}`, wantCode: CodeInvalidArgument},
		{name: "missing id", params: `{"processInstanceId":1}`, wantCode: CodeInvalidArgument},
		{name: "missing instance", params: `{"id":1}`, wantCode: CodeInvalidArgument},
		{
			name:     "unknown instance",
			params:   `{"id":1,"processInstanceId":1,"status":"Completed"}`,
			err:      &service.ExecutionError{Kind: "UnknownProcessInstance", Err: engine.ErrUnknownProcessInstance},
			wantCode: CodeNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := dispatch(t, &fakeService{updateErr: tt.err}, MethodUpdateTask, tt.params, nil)
			if resp.Ok || resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Errorf("%s - expected %s, got %+v", routingTestPrefix, tt.wantCode, resp.Error)
			}
		})
	}
}

func TestDispatch_GetTask(t *testing.T) {
	svc := &fakeService{task: &task.Task{ID: 5, Name: "approve", Status: task.StatusReady}}
	resp := dispatch(t, svc, MethodGetTask, `{"id":5}`, nil)

	if !resp.Ok {
		t.Fatalf("%s - expected ok, got %+v", routingTestPrefix, resp.Error)
	}
	if svc.gotTaskID != 5 {
		t.Errorf("%s - task id = %d", routingTestPrefix, svc.gotTaskID)
	}
	if got, ok := resp.Result.(*task.Task); !ok || got.Name != "approve" {
		t.Errorf("%s - unexpected result %#v", routingTestPrefix, resp.Result)
	}
}

func TestDispatch_GetTaskErrors(t *testing.T) {
	if resp := dispatch(t, &fakeService{}, MethodGetTask, `{}`, nil); resp.Error == nil || resp.Error.Code != CodeInvalidArgument {
		t.Errorf("%s - expected INVALID_ARGUMENT for missing id, got %+v", routingTestPrefix, resp.Error)
	}
	if resp := dispatch(t, &fakeService{}, MethodGetTask, `[]`, nil); resp.Error == nil || resp.Error.Code != CodeInvalidArgument {
		t.Errorf("%s - expected INVALID_ARGUMENT for bad params, got %+v", routingTestPrefix, resp.Error)
	}
	svc := &fakeService{getTaskErr: fmt.Errorf("lookup: %w", task.ErrNotFound)}
	if resp := dispatch(t, svc, MethodGetTask, `{"id":9}`, nil); resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Errorf("%s - expected NOT_FOUND, got %+v", routingTestPrefix, resp.Error)
	}
}

func TestDispatch_Metadata(t *testing.T) {
	svc := &fakeService{methods: []string{"GET", "POST"}}

	resp := dispatch(t, svc, MethodAvailableMethods, ``, nil)
	if m, ok := resp.Result.(*MethodsResult); !ok || len(m.Methods) != 2 {
		t.Errorf("%s - availableMethods = %#v", routingTestPrefix, resp.Result)
	}
	resp = dispatch(t, svc, MethodDescribe, ``, nil)
	if info, ok := resp.Result.(*service.Info); !ok || info.Release != "org.acme:claims:1.2.0" {
		t.Errorf("%s - describe = %#v", routingTestPrefix, resp.Result)
	}
	resp = dispatch(t, svc, MethodHealth, ``, nil)
	if h, ok := resp.Result.(*service.HealthOutput); !ok || h.Status != "healthy" {
		t.Errorf("%s - health = %#v", routingTestPrefix, resp.Result)
	}
}

func TestDispatch_InvalidParams_ReturnsINVALID_ARGUMENT(t *testing.T) {
	for _, method := range []string{MethodExecute, MethodUpdateTask, MethodGetTask} {
		t.Run(method, func(t *testing.T) {
			resp := dispatch(t, &fakeService{}, method, `not json`, nil)
			if resp.Error == nil || resp.Error.Code != CodeInvalidArgument {
				t.Errorf("%s - expected INVALID_ARGUMENT, got %+v", routingTestPrefix, resp.Error)
			}
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	def := 25 * time.Second
	tests := []struct {
		name string
		ic   *InvocationContext
		want time.Duration
	}{
		{name: "nil context", want: def},
		{name: "no deadline", ic: &InvocationContext{}, want: def},
		{name: "shorter deadline", ic: &InvocationContext{DeadlineMs: 500}, want: 500 * time.Millisecond},
		{name: "timeout fallback", ic: &InvocationContext{TimeoutMs: 1500}, want: 1500 * time.Millisecond},
		{name: "longer deadline ignored", ic: &InvocationContext{DeadlineMs: 60000}, want: def},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestTimeout(tt.ic, def); got != tt.want {
				t.Errorf("%s - requestTimeout = %v, want %v", routingTestPrefix, got, tt.want)
			}
		})
	}
}
