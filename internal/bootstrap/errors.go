package bootstrap

import (
	"errors"
	"fmt"

	"github.com/imamik/k3ssm/internal/planner"
)

// ExecErrorKind classifies execution failures.
type ExecErrorKind string

const (
	LaunchFailed             ExecErrorKind = "LaunchFailed"
	LaunchTimeout            ExecErrorKind = "LaunchTimeout"
	SoftwareNotReady         ExecErrorKind = "SoftwareNotReady"
	ArtifactExtractionFailed ExecErrorKind = "ArtifactExtractionFailed"
	RemoteCommandFailed      ExecErrorKind = "RemoteCommandFailed"
	LeaseExpired             ExecErrorKind = "LeaseExpired"
	TerminateFailed          ExecErrorKind = "TerminateFailed"
	// Interrupted means the run's context was cancelled mid-action.
	Interrupted ExecErrorKind = "Interrupted"
)

// ExecError is a fatal failure of one action. It names the action and the
// last state observed for its instance so an operator can resume by hand.
type ExecError struct {
	Kind ExecErrorKind
	// ActionIndex is -1 for teardown.
	ActionIndex  int
	Action       planner.Action
	LastObserved planner.ObservedState
	Err          error
}

func (e *ExecError) Error() string {
	where := "teardown"
	if e.ActionIndex >= 0 {
		where = fmt.Sprintf("action %d %s", e.ActionIndex, e.Action)
	}
	msg := fmt.Sprintf("exec error (%s) at %s", e.Kind, where)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + fmt.Sprintf(" [observed: id=%q status=%s]", e.LastObserved.InstanceID, e.LastObserved.Status)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// Is matches another *ExecError of the same kind.
func (e *ExecError) Is(target error) bool {
	t, ok := target.(*ExecError)
	return ok && t.Kind == e.Kind
}

// IsKind reports whether err is an ExecError of kind.
func IsKind(err error, kind ExecErrorKind) bool {
	var ee *ExecError
	return errors.As(err, &ee) && ee.Kind == kind
}
