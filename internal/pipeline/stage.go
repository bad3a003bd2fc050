package pipeline

import (
	"fmt"
	"sort"

	"github.com/imamik/k3ssm/internal/credentials"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageValidate Stage = "validate"
	StagePlan     Stage = "plan"
	StageApply    Stage = "apply"
	StageBuild    Stage = "build"
	StageDeploy   Stage = "deploy"
	StageTest     Stage = "test"
	StageDestroy  Stage = "destroy"
	StageIAM      Stage = "iam"
	StageInit     Stage = "init"
)

// Gate says when a stage waits for a human.
type Gate int

const (
	// GateNever runs without approval.
	GateNever Gate = iota
	// GateProtectedBranch needs approval on the protected branch only.
	GateProtectedBranch
	// GateAlways needs approval on every branch.
	GateAlways
)

// StageSpec is the static description of a stage.
type StageSpec struct {
	Name    Stage
	Mutates bool
	Scope   credentials.Scope
	Gate    Gate
	// Locked stages run their body while holding the state lock.
	Locked bool
	// Offline stages need no credentials at all.
	Offline bool
}

var stages = map[Stage]StageSpec{
	StageValidate: {Name: StageValidate, Scope: credentials.ScopeReadOnlyPlan, Offline: true},
	StagePlan:     {Name: StagePlan, Scope: credentials.ScopeReadOnlyPlan, Locked: true},
	StageApply:    {Name: StageApply, Mutates: true, Scope: credentials.ScopeFull, Gate: GateProtectedBranch, Locked: true},
	StageBuild:    {Name: StageBuild, Mutates: true, Scope: credentials.ScopeFull, Gate: GateAlways},
	StageDeploy:   {Name: StageDeploy, Mutates: true, Scope: credentials.ScopeFull, Gate: GateAlways},
	StageTest:     {Name: StageTest, Scope: credentials.ScopeReadOnlyPlan, Gate: GateAlways},
	StageDestroy:  {Name: StageDestroy, Mutates: true, Scope: credentials.ScopeFull, Gate: GateAlways, Locked: true},
	StageIAM:      {Name: StageIAM, Mutates: true, Scope: credentials.ScopeFull, Gate: GateAlways},
	StageInit:     {Name: StageInit, Mutates: true, Scope: credentials.ScopeFull, Gate: GateAlways},
}

// Lookup returns the spec of a stage.
func Lookup(name Stage) (StageSpec, error) {
	spec, ok := stages[name]
	if !ok {
		return StageSpec{}, fmt.Errorf("unknown stage %q", name)
	}
	return spec, nil
}

// Stages returns every stage name, sorted.
func Stages() []Stage {
	names := make([]Stage, 0, len(stages))
	for name := range stages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Gated reports whether the stage needs approval on branch.
func (s StageSpec) Gated(branch string) bool {
	switch s.Gate {
	case GateAlways:
		return true
	case GateProtectedBranch:
		return credentials.Classify(branch) == credentials.ClassMain
	default:
		return false
	}
}
