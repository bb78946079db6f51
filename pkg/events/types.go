// Package events defines execution events and publishers for them.
package events

// ExecutionEvent is emitted after a service request ran, when execution
// logging is enabled for the service.
type ExecutionEvent struct {
	Release    string `json:"release"`
	Artifact   string `json:"artifact"`
	Category   string `json:"category,omitempty"`
	RequestID  string `json:"requestId,omitempty"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	Route      string `json:"route"`
	ProcessID  string `json:"processId,omitempty"`
	Status     int    `json:"status,omitempty"`
	DurationMs int64  `json:"durationMs"`
	ErrorKind  string `json:"errorKind,omitempty"`
	Timestamp  string `json:"timestamp"`
}

// Failed reports whether the execution ended in an error.
func (e *ExecutionEvent) Failed() bool {
	return e.ErrorKind != ""
}
