// Package model defines the generic request and response objects exchanged with services.
package model

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// ServiceRequest is the inbound unit of work handed to a service.
type ServiceRequest struct {
	ID      string              `json:"id,omitempty"`
	Method  string              `json:"method,omitempty"`
	Path    string              `json:"path,omitempty"`
	Headers map[string][]string `json:"headers,omitempty"`
	Params  map[string][]string `json:"params,omitempty"`
	Body    json.RawMessage     `json:"body,omitempty"`
	Fields  map[string]any      `json:"fields,omitempty"`
}

// NewServiceRequest creates a request with a generated ID.
func NewServiceRequest(method, path string) *ServiceRequest {
	return &ServiceRequest{
		ID:     uuid.NewString(),
		Method: method,
		Path:   path,
	}
}

// Header returns the first value of the named header, matched case-insensitively.
func (r *ServiceRequest) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Param returns the first value of the named query parameter.
func (r *ServiceRequest) Param(name string) string {
	if v := r.Params[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Field returns a payload field.
func (r *ServiceRequest) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// ServiceResponse is the outbound result of a service execution.
type ServiceResponse struct {
	Message string              `json:"message"`
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers,omitempty"`
	Payload any                 `json:"payload,omitempty"`
}

// NewServiceResponse creates a response with the given message and status code.
func NewServiceResponse(message string, status int) *ServiceResponse {
	return &ServiceResponse{Message: message, Status: status}
}

// AddHeader appends a header value.
func (r *ServiceResponse) AddHeader(name, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string][]string)
	}
	r.Headers[name] = append(r.Headers[name], value)
}
