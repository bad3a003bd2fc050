package planner

import (
	"context"
	"fmt"
	"slices"
)

// InstanceFinder lists the non-terminated instances carrying all given tags.
type InstanceFinder interface {
	FindInstances(ctx context.Context, tags map[string]string) ([]ObservedState, error)
}

// Observe resolves the existing-instance selector. On the create path it
// returns NotFound without a remote call. Zero matches yield NotFound, more
// than one yield an AmbiguousInstance error.
func Observe(ctx context.Context, finder InstanceFinder, desired DesiredState) (ObservedState, error) {
	if !desired.SkipInstanceCreation {
		return NotFound(), nil
	}
	if desired.ExistingSelector == nil || len(desired.ExistingSelector.Tags) == 0 {
		return ObservedState{}, planErr(ContradictoryState, nil,
			"skip_instance_creation requires an existing instance selector")
	}

	matches, err := finder.FindInstances(ctx, desired.ExistingSelector.Tags)
	if err != nil {
		return ObservedState{}, fmt.Errorf("failed to look up existing instance: %w", err)
	}

	switch len(matches) {
	case 0:
		return NotFound(), nil
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.InstanceID
		}
		slices.Sort(ids)
		return ObservedState{}, planErr(AmbiguousInstance, nil,
			"selector matches %d instances: %v", len(matches), ids)
	}
}
