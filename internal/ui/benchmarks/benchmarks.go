// Package benchmarks provides timing estimates for plan actions.
package benchmarks

import (
	"time"

	"github.com/imamik/k3ssm/internal/planner"
)

// DefaultTimings are typical action durations on a t3.medium (seconds).
var DefaultTimings = map[planner.ActionKind]int{
	planner.ActionCreateInstance:          90,
	planner.ActionReuseInstance:           2,
	planner.ActionInstallSoftware:         120,
	planner.ActionSkipSoftware:            1,
	planner.ActionExtractAccessCredential: 10,
}

// Expected returns the typical duration of an action kind.
func Expected(kind planner.ActionKind) (time.Duration, bool) {
	secs, ok := DefaultTimings[kind]
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// EstimateRemaining sums the expected time of the pending actions plus what
// is left of the active one, stretched by scale.
func EstimateRemaining(active planner.ActionKind, activeElapsed time.Duration, pending []planner.ActionKind, scale float64) time.Duration {
	var remaining time.Duration
	if expected, ok := Expected(active); ok {
		expected = time.Duration(float64(expected) * scale)
		if expected > activeElapsed {
			remaining += expected - activeElapsed
		}
	}
	for _, kind := range pending {
		if expected, ok := Expected(kind); ok {
			remaining += time.Duration(float64(expected) * scale)
		}
	}
	return remaining
}

// Finished is a completed action and how long it took.
type Finished struct {
	Kind     planner.ActionKind
	Duration time.Duration
}

// PerformanceScale derives a speed multiplier from observed-vs-expected
// durations. Expected 2m, observed 3m gives 1.5. The result is clamped to
// [0.6, 3.0].
func PerformanceScale(done []Finished, active planner.ActionKind, activeElapsed time.Duration) float64 {
	var expectedTotal, actualTotal time.Duration
	for _, f := range done {
		expected, ok := Expected(f.Kind)
		if !ok {
			continue
		}
		expectedTotal += expected
		actualTotal += f.Duration
	}

	// An overrunning active action counts right away.
	if expected, ok := Expected(active); ok && activeElapsed > expected {
		expectedTotal += expected
		actualTotal += activeElapsed
	}

	if expectedTotal == 0 || actualTotal == 0 {
		return 1.0
	}
	scale := float64(actualTotal) / float64(expectedTotal)
	if scale < 0.6 {
		return 0.6
	}
	if scale > 3.0 {
		return 3.0
	}
	return scale
}
