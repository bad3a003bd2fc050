package planner

import (
	"errors"
	"fmt"
)

// PlanErrorKind classifies planning failures.
type PlanErrorKind string

const (
	// NoMatchingInstance: reuse was requested but no running instance matched.
	NoMatchingInstance PlanErrorKind = "NoMatchingInstance"
	// AmbiguousInstance: the selector matched more than one instance.
	AmbiguousInstance PlanErrorKind = "AmbiguousInstance"
	// ContradictoryState: desired flags, recorded state or a plan contradict
	// each other.
	ContradictoryState PlanErrorKind = "ContradictoryState"
)

// PlanError is returned before any mutating call is made.
type PlanError struct {
	Kind    PlanErrorKind
	Message string
	// Observed is the last observed state, when there is one.
	Observed *ObservedState
}

func (e *PlanError) Error() string {
	msg := fmt.Sprintf("plan error (%s): %s", e.Kind, e.Message)
	if e.Observed != nil {
		msg += fmt.Sprintf(" [observed: id=%q status=%s]", e.Observed.InstanceID, e.Observed.Status)
	}
	return msg
}

// Is matches another *PlanError of the same kind, so callers can write
// errors.Is(err, &PlanError{Kind: NoMatchingInstance}).
func (e *PlanError) Is(target error) bool {
	t, ok := target.(*PlanError)
	return ok && t.Kind == e.Kind
}

// IsKind reports whether err is a PlanError of kind.
func IsKind(err error, kind PlanErrorKind) bool {
	var pe *PlanError
	return errors.As(err, &pe) && pe.Kind == kind
}

func planErr(kind PlanErrorKind, observed *ObservedState, format string, args ...any) *PlanError {
	return &PlanError{Kind: kind, Message: fmt.Sprintf(format, args...), Observed: observed}
}
