package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/imamik/k3ssm/internal/planner"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3b82f6"))
	createStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#22c55e"))
	reuseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#eab308"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6b7280"))
	okStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22c55e"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// RenderPlan formats a plan for the job log.
func RenderPlan(environment string, plan planner.ActionPlan) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Plan for %s: %d action(s)", environment, len(plan.Actions))))
	b.WriteString("\n")

	if len(plan.Actions) == 0 {
		b.WriteString(dimStyle.Render("  nothing to do"))
		return boxStyle.Render(b.String())
	}

	for i, a := range plan.Actions {
		marker, style := "~", reuseStyle
		switch a.Kind {
		case planner.ActionCreateInstance, planner.ActionInstallSoftware:
			marker, style = "+", createStyle
		case planner.ActionSkipSoftware:
			marker, style = "-", dimStyle
		}
		fmt.Fprintf(&b, "  %s %d. %s", style.Render(marker), i, a)
		if i < len(plan.Actions)-1 {
			b.WriteString("\n")
		}
	}
	return boxStyle.Render(b.String())
}

// RenderResult is the last line of a stage.
func RenderResult(stage Stage, d time.Duration, err error) string {
	if err != nil {
		return failStyle.Render(fmt.Sprintf("%s failed after %s (exit %d): %v", stage, d.Round(time.Second), ExitCode(err), err))
	}
	return okStyle.Render(fmt.Sprintf("%s succeeded in %s", stage, d.Round(time.Second)))
}
