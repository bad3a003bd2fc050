package provisioning

import (
	"fmt"
	"time"
)

// LogStageStart logs a stage start event.
func LogStageStart(observer Observer, stage string) {
	observer.Event(Event{
		Type:    EventStageStarted,
		Stage:   stage,
		Message: "starting",
	})
}

// LogStageComplete logs a stage completion event.
func LogStageComplete(observer Observer, stage string, duration time.Duration) {
	observer.Event(Event{
		Type:    EventStageCompleted,
		Stage:   stage,
		Message: fmt.Sprintf("completed in %v", duration.Round(time.Millisecond)),
	})
}

// LogStageFailed logs a stage failure event.
func LogStageFailed(observer Observer, stage string, err error) {
	observer.Event(Event{
		Type:    EventStageFailed,
		Stage:   stage,
		Message: "failed",
		Err:     err,
	})
}

// LogActionStart logs the start of plan action index.
func LogActionStart(observer Observer, stage string, index int, action string) {
	observer.Event(Event{
		Type:     EventActionStarted,
		Stage:    stage,
		Resource: action,
		Message:  "starting action",
		Fields:   map[string]string{"index": fmt.Sprint(index)},
	})
}

// LogActionComplete logs a finished plan action.
func LogActionComplete(observer Observer, stage string, index int, action string, duration time.Duration) {
	observer.Event(Event{
		Type:     EventActionCompleted,
		Stage:    stage,
		Resource: action,
		Message:  fmt.Sprintf("action completed in %v", duration.Round(time.Millisecond)),
		Fields:   map[string]string{"index": fmt.Sprint(index)},
	})
}

// LogActionFailed logs a failed plan action.
func LogActionFailed(observer Observer, stage string, index int, action string, err error) {
	observer.Event(Event{
		Type:     EventActionFailed,
		Stage:    stage,
		Resource: action,
		Message:  "action failed",
		Err:      err,
		Fields:   map[string]string{"index": fmt.Sprint(index)},
	})
}

// LogActionSkipped logs a plan action that intentionally did nothing.
func LogActionSkipped(observer Observer, stage string, index int, action, reason string) {
	observer.Event(Event{
		Type:     EventActionSkipped,
		Stage:    stage,
		Resource: action,
		Message:  reason,
		Fields:   map[string]string{"index": fmt.Sprint(index)},
	})
}

// LogResourceCreating logs a resource creation start event.
func LogResourceCreating(observer Observer, stage, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceCreating,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("creating %s", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogResourceCreated logs a successful resource creation event.
func LogResourceCreated(observer Observer, stage, resourceType, resourceName, resourceID string) {
	observer.Event(Event{
		Type:     EventResourceCreated,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s created", resourceType),
		Fields:   map[string]string{"type": resourceType, "id": resourceID},
	})
}

// LogResourceExists logs when a resource already exists.
func LogResourceExists(observer Observer, stage, resourceType, resourceName, resourceID string) {
	observer.Event(Event{
		Type:     EventResourceExists,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s already exists", resourceType),
		Fields:   map[string]string{"type": resourceType, "id": resourceID},
	})
}

// LogResourceDeleting logs a resource deletion start event.
func LogResourceDeleting(observer Observer, stage, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceDeleting,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("deleting %s", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogResourceDeleted logs a successful resource deletion event.
func LogResourceDeleted(observer Observer, stage, resourceType, resourceName string) {
	observer.Event(Event{
		Type:     EventResourceDeleted,
		Stage:    stage,
		Resource: resourceName,
		Message:  fmt.Sprintf("%s deleted", resourceType),
		Fields:   map[string]string{"type": resourceType},
	})
}

// LogValidationWarning logs a non-fatal problem.
func LogValidationWarning(observer Observer, stage, message string) {
	observer.Event(Event{
		Type:    EventValidationWarning,
		Stage:   stage,
		Message: message,
	})
}
