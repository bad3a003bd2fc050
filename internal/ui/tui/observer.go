package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/provisioning"
)

// Sender receives messages for the view. *tea.Program satisfies it.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer turns provisioning events into view messages.
type Observer struct {
	sender Sender
	now    func() time.Time
}

var _ provisioning.Observer = (*Observer)(nil)

// NewObserver forwards to sender.
func NewObserver(sender Sender) *Observer {
	return &Observer{sender: sender, now: time.Now}
}

// AnnouncePlan fills the action rows when the view was opened before the
// plan was computed.
func (o *Observer) AnnouncePlan(plan planner.ActionPlan) {
	o.sender.Send(PlanMsg{Plan: plan})
}

// Printf adds a log line.
func (o *Observer) Printf(format string, v ...any) {
	o.sender.Send(LogMsg{Line: fmt.Sprintf(format, v...)})
}

// Event maps action events to row updates; everything else becomes a log
// line.
func (o *Observer) Event(event provisioning.Event) {
	state, isAction := actionState(event.Type)
	if isAction {
		if index, err := strconv.Atoi(event.Fields["index"]); err == nil {
			at := event.Timestamp
			if at.IsZero() {
				at = o.now()
			}
			o.sender.Send(ActionMsg{Index: index, State: state, At: at, Err: event.Err})
		}
	}
	if event.Type == provisioning.EventProgress {
		return
	}

	line := event.Message
	if event.Resource != "" {
		line = event.Resource + ": " + line
	}
	if event.Err != nil {
		line += ": " + event.Err.Error()
	}
	o.sender.Send(LogMsg{Line: line})
}

// Progress is shown through action rows, not separately.
func (o *Observer) Progress(string, int, int) {}

// WithFields returns o; the view has no place for fields.
func (o *Observer) WithFields(map[string]string) provisioning.Observer {
	return o
}

func actionState(t provisioning.EventType) (ActionState, bool) {
	switch t {
	case provisioning.EventActionStarted:
		return ActionRunning, true
	case provisioning.EventActionCompleted:
		return ActionDone, true
	case provisioning.EventActionSkipped:
		return ActionSkipped, true
	case provisioning.EventActionFailed:
		return ActionFailed, true
	default:
		return ActionPending, false
	}
}
