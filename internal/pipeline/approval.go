package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
)

// EnvApproved pre-approves gated stages, for manual CI jobs.
const EnvApproved = "K3SSM_APPROVED"

// Approver asks whether a gated stage may run.
type Approver interface {
	Approve(ctx context.Context, stage Stage, branch string) (bool, error)
}

// TerminalApprover prompts on the terminal. Without a terminal it never
// approves.
type TerminalApprover struct {
	In  *os.File
	Out *os.File
}

// NewTerminalApprover prompts on stdin/stdout.
func NewTerminalApprover() *TerminalApprover {
	return &TerminalApprover{In: os.Stdin, Out: os.Stdout}
}

// Interactive reports whether both ends are terminals.
func (a *TerminalApprover) Interactive() bool {
	return isTerminal(a.In) && isTerminal(a.Out)
}

// Approve shows a confirmation prompt.
func (a *TerminalApprover) Approve(ctx context.Context, stage Stage, branch string) (bool, error) {
	if !a.Interactive() {
		return false, nil
	}

	var ok bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(fmt.Sprintf("Run %s on branch %s?", stage, branch)).
			Description("This stage changes cloud resources.").
			Affirmative("Run").
			Negative("Abort").
			Value(&ok),
	)).WithInput(a.In).WithOutput(a.Out)

	if err := form.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("approval prompt failed: %w", err)
	}
	return ok, nil
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
