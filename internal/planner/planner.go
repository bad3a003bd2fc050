package planner

import (
	"errors"
	"fmt"
)

// Plan computes the action sequence that moves observed to desired.
// It is pure: no clock, no globals and no map iteration feed the output.
func Plan(desired DesiredState, observed ObservedState) (ActionPlan, error) {
	var actions []Action
	var target TargetRef

	if desired.SkipInstanceCreation {
		if !observed.Running() {
			obs := observed
			return ActionPlan{}, planErr(NoMatchingInstance, &obs,
				"skip_instance_creation is set but no running instance matches the selector")
		}
		target = LiteralTarget(observed.InstanceID)
		actions = append(actions, Action{Kind: ActionReuseInstance, Target: &target})
	} else {
		spec := desired.InstanceSpec.Clone()
		actions = append(actions, Action{Kind: ActionCreateInstance, Spec: &spec})
		target = ForwardTarget(0)
	}

	if desired.SkipSoftwareInstall {
		actions = append(actions, Action{Kind: ActionSkipSoftware})
	} else {
		t := target
		actions = append(actions, Action{Kind: ActionInstallSoftware, Target: &t})
	}

	// A fresh instance without K3s has no kubeconfig to read.
	if !(desired.SkipSoftwareInstall && !desired.SkipInstanceCreation) {
		t := target
		actions = append(actions, Action{Kind: ActionExtractAccessCredential, Target: &t})
	}

	return ActionPlan{Actions: actions}, nil
}

// Validate checks the structural invariants of a plan: exactly one instance
// action and it comes first, exactly one software action, and every target
// resolves to that earlier instance action.
func Validate(p ActionPlan) error {
	var errs []error
	instanceIdx, softwareCount := -1, 0
	reuseID := ""

	for i, a := range p.Actions {
		switch a.Kind {
		case ActionCreateInstance, ActionReuseInstance:
			if instanceIdx >= 0 {
				errs = append(errs, fmt.Errorf("action %d: second instance action %s (first at %d)", i, a.Kind, instanceIdx))
				continue
			}
			if i != 0 {
				errs = append(errs, fmt.Errorf("action %d: %s must be the first action", i, a.Kind))
			}
			instanceIdx = i
			if a.Kind == ActionCreateInstance && a.Spec == nil {
				errs = append(errs, fmt.Errorf("action %d: CreateInstance without spec", i))
			}
			if a.Kind == ActionReuseInstance {
				if a.Target == nil || a.Target.IsForward() || a.Target.InstanceID == "" {
					errs = append(errs, fmt.Errorf("action %d: ReuseInstance needs a literal instance id", i))
				} else {
					reuseID = a.Target.InstanceID
				}
			}
		case ActionInstallSoftware, ActionSkipSoftware:
			softwareCount++
			if instanceIdx < 0 || instanceIdx > i {
				errs = append(errs, fmt.Errorf("action %d: %s before any instance action", i, a.Kind))
			}
			if a.Kind == ActionInstallSoftware {
				errs = append(errs, checkTarget(i, a, instanceIdx, reuseID)...)
			}
		case ActionExtractAccessCredential:
			if softwareCount == 0 {
				errs = append(errs, fmt.Errorf("action %d: %s before the software action", i, a.Kind))
			}
			errs = append(errs, checkTarget(i, a, instanceIdx, reuseID)...)
		default:
			errs = append(errs, fmt.Errorf("action %d: unknown kind %q", i, a.Kind))
		}
	}

	if instanceIdx < 0 {
		errs = append(errs, errors.New("plan has no instance action"))
	}
	if softwareCount != 1 {
		errs = append(errs, fmt.Errorf("plan has %d software actions, want exactly 1", softwareCount))
	}

	if err := errors.Join(errs...); err != nil {
		return planErr(ContradictoryState, nil, "invalid plan: %v", err)
	}
	return nil
}

func checkTarget(i int, a Action, instanceIdx int, reuseID string) []error {
	switch {
	case a.Target == nil:
		return []error{fmt.Errorf("action %d: %s without target", i, a.Kind)}
	case a.Target.IsForward():
		if a.Target.FromAction != instanceIdx || reuseID != "" {
			return []error{fmt.Errorf("action %d: target %s does not name the CreateInstance action", i, a.Target)}
		}
	case a.Target.InstanceID == "":
		return []error{fmt.Errorf("action %d: %s with empty target", i, a.Kind)}
	case a.Target.InstanceID != reuseID:
		return []error{fmt.Errorf("action %d: target %s does not match the reused instance", i, a.Target)}
	}
	return nil
}
