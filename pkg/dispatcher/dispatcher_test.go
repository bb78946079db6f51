package dispatcher

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	commsserver "github.com/nats-io/nats-server/v2/server"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/service-dispatcher/pkg/model"
)

const dispatcherTestPrefix = "dispatcher:dispatcher_test"

func TestRequest_Unmarshal(t *testing.T) {
	raw := `{
		"id": "req-1",
		"type": "invoke",
		"method": "execute",
		"params": {"method": "POST", "path": "/claims"},
		"ctx": {"tenantId": "tenant-1", "requestId": "r-9"}
	}`

	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		t.Fatalf("%s - failed to unmarshal: %v", dispatcherTestPrefix, err)
	}
	if req.ID != "req-1" || req.Method != MethodExecute {
		t.Errorf("%s - unexpected envelope %+v", dispatcherTestPrefix, req)
	}
	if req.Ctx == nil || req.Ctx.TenantID != "tenant-1" || req.Ctx.RequestID != "r-9" {
		t.Errorf("%s - unexpected ctx %+v", dispatcherTestPrefix, req.Ctx)
	}
}

func TestResponse_ErrorOmitsResult(t *testing.T) {
	data, err := json.Marshal(errorResponse("req-2", CodeNotFound, "Task not found", false))
	if err != nil {
		t.Fatalf("%s - failed to marshal: %v", dispatcherTestPrefix, err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("%s - failed to unmarshal: %v", dispatcherTestPrefix, err)
	}
	if _, ok := decoded["result"]; ok {
		t.Errorf("%s - result should be omitted: %s", dispatcherTestPrefix, data)
	}
	errObj, _ := decoded["error"].(map[string]any)
	if errObj["code"] != CodeNotFound || errObj["retryable"] != false {
		t.Errorf("%s - unexpected error object %v", dispatcherTestPrefix, errObj)
	}
}

func startTestServer(t *testing.T, port int) *comms.Conn {
	t.Helper()
	ns, err := commsserver.NewServer(&commsserver.Options{Host: "127.0.0.1", Port: port, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("%s - failed to create server: %v", dispatcherTestPrefix, err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		t.Fatalf("%s - server failed to start", dispatcherTestPrefix)
	}
	nc, err := comms.Connect(ns.ClientURL(), comms.Timeout(5*time.Second))
	if err != nil {
		ns.Shutdown()
		t.Fatalf("%s - failed to connect: %v", dispatcherTestPrefix, err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return nc
}

func TestMsgHandler_RequestReply(t *testing.T) {
	nc := startTestServer(t, 14240)
	svc := &fakeService{execResp: model.NewServiceResponse("accepted", 202)}
	disp := NewDispatcher(svc)

	sub, err := nc.Subscribe("svc.claims.v1", disp.MsgHandler(context.Background(), 5*time.Second))
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", dispatcherTestPrefix, err)
	}
	defer sub.Unsubscribe()

	data, _ := json.Marshal(&Request{ID: "r-1", Method: MethodExecute, Params: json.RawMessage(`{"method":"PUT"}`)})
	msg, err := nc.Request("svc.claims.v1", data, 5*time.Second)
	if err != nil {
		t.Fatalf("%s - request failed: %v", dispatcherTestPrefix, err)
	}

	var resp struct {
		ID     string                `json:"id"`
		Ok     bool                  `json:"ok"`
		Result model.ServiceResponse `json:"result"`
	}
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("%s - bad response: %v", dispatcherTestPrefix, err)
	}
	if !resp.Ok || resp.ID != "r-1" || resp.Result.Status != 202 || resp.Result.Message != "accepted" {
		t.Errorf("%s - unexpected response %s", dispatcherTestPrefix, msg.Data)
	}
}

func TestMsgHandler_InvalidRequest(t *testing.T) {
	nc := startTestServer(t, 14241)
	disp := NewDispatcher(&fakeService{})

	sub, err := nc.Subscribe("svc.claims.v1", disp.MsgHandler(context.Background(), time.Second))
	if err != nil {
		t.Fatalf("%s - subscribe failed: %v", dispatcherTestPrefix, err)
	}
	defer sub.Unsubscribe()

	msg, err := nc.Request("svc.claims.v1", []byte("{not json"), 5*time.Second)
	if err != nil {
		t.Fatalf("%s - request failed: %v", dispatcherTestPrefix, err)
	}
	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		t.Fatalf("%s - bad response: %v", dispatcherTestPrefix, err)
	}
	if resp.Ok || resp.Error == nil || resp.Error.Code != CodeInvalidRequest {
		t.Errorf("%s - expected INVALID_REQUEST, got %s", dispatcherTestPrefix, msg.Data)
	}
}
