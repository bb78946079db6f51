package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectExecutionEvent = "service.executed"
	SubjectTaskSuffix     = "tasks"
)

// BuildServiceSubject builds the request subject of a service release.
func BuildServiceSubject(artifact string, major uint64) string {
	return fmt.Sprintf("svc.%s.v%d", sanitize(artifact), major)
}

// BuildTaskSubject builds the task update subject of a service release.
func BuildTaskSubject(artifact string, major uint64) string {
	return BuildServiceSubject(artifact, major) + "." + SubjectTaskSuffix
}

// BuildExecutionSubject builds the per-service execution event subject.
func BuildExecutionSubject(base, artifact string) string {
	if base == "" {
		base = SubjectExecutionEvent
	}
	return fmt.Sprintf("%s.%s", base, sanitize(artifact))
}

// sanitize replaces characters that separate or wildcard subject tokens.
func sanitize(token string) string {
	return strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_").Replace(token)
}
