// Package tui renders the apply progress view: one row per plan action,
// the run log tail below, fed by a provisioning observer.
package tui

import (
	"time"

	"github.com/imamik/k3ssm/internal/planner"
)

// ActionState is the display state of a plan action.
type ActionState int

// Action states.
const (
	ActionPending ActionState = iota
	ActionRunning
	ActionDone
	ActionSkipped
	ActionFailed
)

// ActionMsg reports a state change of the plan action at Index.
type ActionMsg struct {
	Index int
	State ActionState
	At    time.Time
	Err   error
}

// PlanMsg announces the plan once it is known. It only fills an empty view.
type PlanMsg struct{ Plan planner.ActionPlan }

// LogMsg carries one line of the run log.
type LogMsg struct{ Line string }

// TickMsg is sent periodically to refresh the display.
type TickMsg struct{}

// DoneMsg signals that the run returned.
type DoneMsg struct{ Err error }
