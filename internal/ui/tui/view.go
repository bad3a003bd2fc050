package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderProgressBar(&b, m)
	renderActions(&b, m)
	if len(m.Log) > 0 {
		renderLog(&b, m)
	}
	renderFooter(&b, m)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	title := fmt.Sprintf("k3ssm apply: %s", m.Environment)
	if m.Region != "" {
		title += fmt.Sprintf(" (%s)", m.Region)
	}
	b.WriteString(titleStyle.Render(title))

	status := " "
	switch {
	case m.Done && m.Err != nil:
		status += failedStyle.Render(fmt.Sprintf("Error: %v", m.Err))
	case m.Done:
		status += readyStyle.Render("Applied")
	case m.Cancelling:
		status += warningStyle.Render("Cancelling...")
	default:
		status += activeStyle.Render(currentSpinner(m.SpinnerFrame)) + " " + dimStyle.Render("Applying")
	}
	b.WriteString(status)
	b.WriteString("\n")
}

func renderProgressBar(b *strings.Builder, m Model) {
	progress := calculateProgress(m)
	barWidth := 40
	if m.Width > 0 && m.Width < 80 {
		barWidth = max(m.Width-30, 10)
	}
	filled := min(int(float64(barWidth)*progress), barWidth)

	bar := progressBarFull.Render(strings.Repeat("█", filled)) +
		progressBarEmpty.Render(strings.Repeat("░", barWidth-filled))

	eta := ""
	if m.EstimatedRemaining > 0 {
		eta = fmt.Sprintf(" ETA %s", formatDuration(m.EstimatedRemaining))
	}
	if m.PerformanceScale != 0 && m.PerformanceScale != 1.0 {
		eta += fmt.Sprintf("  speed x%.2f", m.PerformanceScale)
	}
	fmt.Fprintf(b, "  %s %d%%%s\n", bar, int(progress*100), eta)
}

func renderActions(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Plan"))
	b.WriteString("\n")

	if len(m.Actions) == 0 {
		b.WriteString(dimStyle.Render("    nothing to do"))
		b.WriteString("\n")
		return
	}

	for i, row := range m.Actions {
		icon, style := actionIcon(row.State, m.SpinnerFrame)
		dur := ""
		switch row.State {
		case ActionRunning:
			dur = formatDuration(m.clock().Sub(row.StartedAt))
		case ActionDone, ActionFailed:
			dur = formatDuration(row.Elapsed)
		case ActionSkipped:
			dur = "skipped"
		}
		fmt.Fprintf(b, "    %s %d. %-26s %s\n", style(icon), i, style(string(row.Kind)), dimStyle.Render(dur))
		if row.Err != nil {
			fmt.Fprintf(b, "         %s\n", failedStyle.Render(row.Err.Error()))
		}
	}
}

func renderLog(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Log"))
	b.WriteString("\n")
	for _, line := range m.Log {
		fmt.Fprintf(b, "    %s\n", dimStyle.Render(line))
	}
}

func renderFooter(b *strings.Builder, m Model) {
	hint := "q: cancel"
	if m.Cancelling {
		hint = "q: quit now"
	}
	elapsed := formatDuration(time.Since(m.StartTime))
	b.WriteString(footerStyle.Render(fmt.Sprintf("  elapsed: %s  |  %s", elapsed, hint)))
	b.WriteString("\n")
}

func actionIcon(state ActionState, frame int) (string, styleFunc) {
	switch state {
	case ActionDone:
		return checkMark, sf(readyStyle)
	case ActionFailed:
		return crossMark, sf(failedStyle)
	case ActionSkipped:
		return skipMark, sf(dimStyle)
	case ActionRunning:
		return currentSpinner(frame), sf(activeStyle)
	default:
		return pending, sf(dimStyle)
	}
}

func currentSpinner(frame int) string {
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

// calculateProgress counts finished actions; a running action counts half.
func calculateProgress(m Model) float64 {
	if len(m.Actions) == 0 {
		if m.Done {
			return 1.0
		}
		return 0
	}
	var progress float64
	for _, row := range m.Actions {
		switch row.State {
		case ActionDone, ActionSkipped, ActionFailed:
			progress++
		case ActionRunning:
			progress += 0.5
		}
	}
	return min(progress/float64(len(m.Actions)), 1.0)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
