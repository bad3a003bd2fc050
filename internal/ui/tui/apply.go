package tui

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/provisioning"
)

// ErrInterrupted is returned when the view was closed before the run
// finished unwinding.
var ErrInterrupted = errors.New("apply view closed before the run finished")

// RunApply runs fn behind the progress view. fn receives a context that
// q/ctrl+c cancels and an observer feeding the view. RunApply returns fn's
// error once fn has returned.
func RunApply(
	ctx context.Context,
	environment, region string,
	plan *planner.ActionPlan,
	fn func(ctx context.Context, observer provisioning.Observer) error,
	opts ...tea.ProgramOption,
) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := NewApplyModel(environment, region, plan, cancel)
	p := tea.NewProgram(m, opts...)

	result := make(chan error, 1)
	go func() {
		err := fn(runCtx, NewObserver(p))
		result <- err
		p.Send(DoneMsg{Err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-result
		return fmt.Errorf("TUI error: %w", err)
	}

	select {
	case err := <-result:
		return err
	default:
		// Quit on the second key press: stop the run and wait for it.
		cancel()
		if err := <-result; err != nil {
			return err
		}
		return ErrInterrupted
	}
}
