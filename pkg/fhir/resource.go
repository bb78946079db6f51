package fhir

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Resource is a raw FHIR resource as returned by the server.
type Resource json.RawMessage

// ResourceType returns the resource's resourceType.
func (r Resource) ResourceType() string {
	return gjson.GetBytes(r, "resourceType").String()
}

// ID returns the resource's logical id.
func (r Resource) ID() string {
	return gjson.GetBytes(r, "id").String()
}

// Get returns the value at a gjson path, e.g. "name.0.family".
func (r Resource) Get(path string) gjson.Result {
	return gjson.GetBytes(r, path)
}

// MarshalJSON emits the raw resource.
func (r Resource) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	return r, nil
}

// Response is the outcome of a query. A failed query has a nil Result and
// carries the transport status instead of an error.
type Response struct {
	Result     []Resource `json:"result"`
	StatusCode int        `json:"statusCode"`
	StatusInfo string     `json:"statusInfo"`
}

// OK reports whether the query produced a result.
func (r *Response) OK() bool { return r.Result != nil }

// First returns the first resource, or nil.
func (r *Response) First() Resource {
	if len(r.Result) == 0 {
		return nil
	}
	return r.Result[0]
}
