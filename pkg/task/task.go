// Package task defines human tasks attached to process work items and their stores.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusCreated    Status = "Created"
	StatusReady      Status = "Ready"
	StatusReserved   Status = "Reserved"
	StatusInProgress Status = "InProgress"
	StatusSuspended  Status = "Suspended"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusError      Status = "Error"
	StatusExited     Status = "Exited"
	StatusObsolete   Status = "Obsolete"
)

var allStatuses = []Status{
	StatusCreated, StatusReady, StatusReserved, StatusInProgress, StatusSuspended,
	StatusCompleted, StatusFailed, StatusError, StatusExited, StatusObsolete,
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if strings.EqualFold(string(st), s) {
			return st, nil
		}
	}
	return "", fmt.Errorf("task:task - unknown status %q", s)
}

// UnmarshalJSON accepts any casing of a known status.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ErrNotFound is returned when a task does not exist.
var ErrNotFound = errors.New("task not found")

// Task is a unit of human work bound to a process instance's work item.
type Task struct {
	ID                int64          `json:"id"`
	Name              string         `json:"name"`
	Status            Status         `json:"status"`
	ProcessInstanceID int64          `json:"processInstanceId"`
	WorkItemID        int64          `json:"workItemId"`
	ActualOwner       string         `json:"actualOwner,omitempty"`
	Input             map[string]any `json:"input,omitempty"`
	Output            map[string]any `json:"output,omitempty"`
	Created           time.Time      `json:"created"`
	Modified          time.Time      `json:"modified"`
}

// Store persists tasks.
type Store interface {
	Save(ctx context.Context, t *Task) (*Task, error)
	Get(ctx context.Context, id int64) (*Task, error)
	ListByProcessInstance(ctx context.Context, processInstanceID int64) ([]Task, error)
}
