package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/ui/benchmarks"
)

// logTail is the number of log lines kept under the action rows.
const logTail = 8

// ActionRow is one plan action on screen.
type ActionRow struct {
	Kind      planner.ActionKind
	State     ActionState
	StartedAt time.Time
	Elapsed   time.Duration
	Err       error
}

// Model is the Bubble Tea model of the apply view.
type Model struct {
	Environment string
	Region      string

	Actions []ActionRow
	Log     []string

	EstimatedRemaining time.Duration
	PerformanceScale   float64
	StartTime          time.Time
	SpinnerFrame       int

	Width      int
	Height     int
	Err        error
	Done       bool
	Cancelling bool

	cancel func()
	now    func() time.Time
}

// NewApplyModel creates the view for a plan. cancel is called when the
// user asks to stop.
func NewApplyModel(environment, region string, plan *planner.ActionPlan, cancel func()) Model {
	m := Model{
		Environment:      environment,
		Region:           region,
		StartTime:        time.Now(),
		PerformanceScale: 1.0,
		cancel:           cancel,
		now:              time.Now,
	}
	if plan != nil {
		for _, a := range plan.Actions {
			m.Actions = append(m.Actions, ActionRow{Kind: a.Kind})
		}
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// The first press cancels the run and waits for it to unwind;
			// a second one leaves immediately.
			if m.Cancelling {
				return m, tea.Quit
			}
			m.Cancelling = true
			if m.cancel != nil {
				m.cancel()
			}
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height

	case PlanMsg:
		if len(m.Actions) == 0 {
			for _, a := range msg.Plan.Actions {
				m.Actions = append(m.Actions, ActionRow{Kind: a.Kind})
			}
		}

	case ActionMsg:
		m.updateAction(msg)

	case LogMsg:
		m.Log = append(m.Log, msg.Line)
		if len(m.Log) > logTail {
			m.Log = m.Log[len(m.Log)-logTail:]
		}

	case TickMsg:
		m.SpinnerFrame++
		m.updateETA()
		return m, tickCmd()

	case DoneMsg:
		m.Done = true
		m.Err = msg.Err
		return m, tea.Quit
	}

	return m, nil
}

func (m *Model) updateAction(msg ActionMsg) {
	if msg.Index < 0 || msg.Index >= len(m.Actions) {
		return
	}
	row := &m.Actions[msg.Index]
	switch msg.State {
	case ActionRunning:
		row.StartedAt = msg.At
	default:
		if !row.StartedAt.IsZero() {
			row.Elapsed = msg.At.Sub(row.StartedAt)
		}
	}
	row.State = msg.State
	row.Err = msg.Err
}

func (m *Model) updateETA() {
	var done []benchmarks.Finished
	var pending []planner.ActionKind
	var active planner.ActionKind
	var activeElapsed time.Duration

	for _, row := range m.Actions {
		switch row.State {
		case ActionDone, ActionSkipped:
			done = append(done, benchmarks.Finished{Kind: row.Kind, Duration: row.Elapsed})
		case ActionRunning:
			active = row.Kind
			activeElapsed = m.clock().Sub(row.StartedAt)
		case ActionPending:
			pending = append(pending, row.Kind)
		}
	}
	if active == "" && len(pending) == 0 {
		m.EstimatedRemaining = 0
		return
	}

	m.PerformanceScale = benchmarks.PerformanceScale(done, active, activeElapsed)
	m.EstimatedRemaining = benchmarks.EstimateRemaining(active, activeElapsed, pending, m.PerformanceScale)
}

func (m Model) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}
