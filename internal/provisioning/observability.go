package provisioning

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Logger is the minimal printf-style logging surface.
type Logger interface {
	Printf(format string, v ...any)
}

// Observer defines the interface for structured observability during a run.
type Observer interface {
	Logger

	// Event emits a structured event
	Event(event Event)

	// Progress reports progress within a stage
	Progress(stage string, current, total int)

	// WithFields returns a new Observer with additional context fields
	WithFields(fields map[string]string) Observer
}

// Event represents a structured run event.
type Event struct {
	Type      EventType         // Type of event
	Stage     string            // Pipeline stage (e.g., "apply", "destroy")
	Message   string            // Human-readable message
	Resource  string            // Resource name/ID or action if applicable
	Err       error             // Cause of a failure event
	Timestamp time.Time         // When the event occurred
	Fields    map[string]string // Additional contextual fields
}

// EventType represents the type of run event.
type EventType string

const (
	EventStageStarted   EventType = "stage.started"
	EventStageCompleted EventType = "stage.completed"
	EventStageFailed    EventType = "stage.failed"

	EventActionStarted   EventType = "action.started"
	EventActionCompleted EventType = "action.completed"
	EventActionFailed    EventType = "action.failed"
	EventActionSkipped   EventType = "action.skipped"

	EventResourceCreating EventType = "resource.creating"
	EventResourceCreated  EventType = "resource.created"
	EventResourceExists   EventType = "resource.exists"
	EventResourceFailed   EventType = "resource.failed"
	EventResourceDeleting EventType = "resource.deleting"
	EventResourceDeleted  EventType = "resource.deleted"

	EventValidationWarning EventType = "validation.warning"
	EventValidationError   EventType = "validation.error"

	EventProgress EventType = "progress"
)

// Failed reports whether the event type marks a failure.
func (t EventType) Failed() bool {
	switch t {
	case EventStageFailed, EventActionFailed, EventResourceFailed, EventValidationError:
		return true
	}
	return false
}

// LogObserver implements Observer on top of a logr.Logger.
type LogObserver struct {
	log           logr.Logger
	contextFields map[string]string
}

// NewLogObserver creates an observer writing to log.
func NewLogObserver(log logr.Logger) *LogObserver {
	return &LogObserver{log: log, contextFields: map[string]string{}}
}

// Printf logs a formatted informational message.
func (o *LogObserver) Printf(format string, v ...any) {
	o.log.Info(fmt.Sprintf(format, v...), o.keysAndValues(nil)...)
}

// Event implements Observer interface.
func (o *LogObserver) Event(event Event) {
	kv := []any{"event", string(event.Type)}
	if event.Stage != "" {
		kv = append(kv, "stage", event.Stage)
	}
	if event.Resource != "" {
		kv = append(kv, "resource", event.Resource)
	}
	kv = append(kv, o.keysAndValues(event.Fields)...)

	if event.Type.Failed() {
		o.log.Error(event.Err, event.Message, kv...)
		return
	}
	o.log.Info(event.Message, kv...)
}

// Progress implements Observer interface.
func (o *LogObserver) Progress(stage string, current, total int) {
	kv := []any{"event", string(EventProgress), "stage", stage, "current", current, "total", total}
	if total > 0 {
		kv = append(kv, "percent", current*100/total)
	}
	o.log.V(1).Info("progress", append(kv, o.keysAndValues(nil)...)...)
}

// WithFields implements Observer interface.
func (o *LogObserver) WithFields(fields map[string]string) Observer {
	merged := maps.Clone(o.contextFields)
	maps.Copy(merged, fields)
	return &LogObserver{log: o.log, contextFields: merged}
}

// keysAndValues merges event fields over context fields in sorted key order.
func (o *LogObserver) keysAndValues(fields map[string]string) []any {
	merged := maps.Clone(o.contextFields)
	maps.Copy(merged, fields)
	kv := make([]any, 0, 2*len(merged))
	for _, k := range slices.Sorted(maps.Keys(merged)) {
		kv = append(kv, k, merged[k])
	}
	return kv
}

// Tee forwards every call to all observers.
func Tee(observers ...Observer) Observer {
	return tee(observers)
}

type tee []Observer

func (t tee) Printf(format string, v ...any) {
	for _, o := range t {
		o.Printf(format, v...)
	}
}

func (t tee) Event(event Event) {
	for _, o := range t {
		o.Event(event)
	}
}

func (t tee) Progress(stage string, current, total int) {
	for _, o := range t {
		o.Progress(stage, current, total)
	}
}

func (t tee) WithFields(fields map[string]string) Observer {
	out := make(tee, len(t))
	for i, o := range t {
		out[i] = o.WithFields(fields)
	}
	return out
}

// RecordingObserver keeps every event in memory. It is safe for concurrent
// use and shares its buffer with observers derived through WithFields.
type RecordingObserver struct {
	mu       *sync.Mutex
	events   *[]Event
	messages *[]string
	fields   map[string]string
}

// NewRecordingObserver creates an empty recorder.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{mu: &sync.Mutex{}, events: &[]Event{}, messages: &[]string{}, fields: map[string]string{}}
}

func (r *RecordingObserver) Printf(format string, v ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.messages = append(*r.messages, fmt.Sprintf(format, v...))
}

func (r *RecordingObserver) Event(event Event) {
	if len(r.fields) > 0 {
		merged := maps.Clone(r.fields)
		maps.Copy(merged, event.Fields)
		event.Fields = merged
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*r.events = append(*r.events, event)
}

func (r *RecordingObserver) Progress(stage string, current, total int) {
	r.Event(Event{Type: EventProgress, Stage: stage, Message: fmt.Sprintf("%d/%d", current, total)})
}

func (r *RecordingObserver) WithFields(fields map[string]string) Observer {
	merged := maps.Clone(r.fields)
	maps.Copy(merged, fields)
	return &RecordingObserver{mu: r.mu, events: r.events, messages: r.messages, fields: merged}
}

// Events returns a copy of the recorded events.
func (r *RecordingObserver) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(*r.events)
}

// Messages returns a copy of the recorded Printf messages.
func (r *RecordingObserver) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(*r.messages)
}

// Types returns the recorded event types in order.
func (r *RecordingObserver) Types() []EventType {
	events := r.Events()
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	return types
}
