package pipeline

import (
	"errors"

	"github.com/imamik/k3ssm/internal/bootstrap"
	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/statelock"
)

var (
	// ErrScopeDenied is returned when the lease scope does not cover the
	// stage.
	ErrScopeDenied = errors.New("credential scope does not allow this stage")

	// ErrApprovalRequired is returned when a gated stage was not approved.
	ErrApprovalRequired = errors.New("stage requires manual approval")
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitAuth     = 2
	ExitPlan     = 3
	ExitExec     = 4
	ExitLock     = 5
	ExitApproval = 6
)

// ExitCode maps a run error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var authErr *credentials.AuthError
	var execErr *bootstrap.ExecError
	var planErr *planner.PlanError
	switch {
	case errors.Is(err, ErrApprovalRequired), errors.Is(err, ErrScopeDenied):
		return ExitApproval
	case errors.Is(err, statelock.ErrLockContention):
		return ExitLock
	case errors.As(err, &authErr):
		return ExitAuth
	case errors.As(err, &execErr):
		return ExitExec
	case errors.As(err, &planErr):
		return ExitPlan
	default:
		return ExitFailure
	}
}
