// Package dispatcher routes incoming COMMS messages to service operations.
package dispatcher

import "encoding/json"

// Method names accepted in Request.Method.
const (
	MethodExecute          = "execute"
	MethodUpdateTask       = "updateTask"
	MethodGetTask          = "getTask"
	MethodAvailableMethods = "availableMethods"
	MethodDescribe         = "describe"
	MethodHealth           = "health"
)

// Error codes carried in ErrorDetail.Code.
const (
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeMethodNotFound  = "METHOD_NOT_FOUND"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeNotFound        = "NOT_FOUND"
	CodeInternalError   = "INTERNAL_ERROR"
)

// Request is the JSON envelope for incoming COMMS service requests.
type Request struct {
	ID     string             `json:"id"`
	Type   string             `json:"type,omitempty"`
	Method string             `json:"method"`
	Params json.RawMessage    `json:"params"`
	Ctx    *InvocationContext `json:"ctx,omitempty"`
}

// Response is the JSON envelope for COMMS service responses.
type Response struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result any          `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	TenantID      string `json:"tenantId,omitempty"`
	UserID        string `json:"userId,omitempty"`
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	DeadlineMs    int    `json:"deadlineMs,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}

// GetTaskParams are the params of a getTask request.
type GetTaskParams struct {
	ID int64 `json:"id"`
}

// UpdateTaskResult is the result of an updateTask request.
type UpdateTaskResult struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// MethodsResult is the result of an availableMethods request.
type MethodsResult struct {
	Methods []string `json:"methods"`
}
