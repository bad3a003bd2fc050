package planner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// ActionKind names an action variant.
type ActionKind string

const (
	ActionCreateInstance          ActionKind = "CreateInstance"
	ActionReuseInstance           ActionKind = "ReuseInstance"
	ActionInstallSoftware         ActionKind = "InstallSoftware"
	ActionSkipSoftware            ActionKind = "SkipSoftware"
	ActionExtractAccessCredential ActionKind = "ExtractAccessCredential"
)

// TargetRef names the instance an action operates on: either a literal id
// or the index of the earlier CreateInstance action that yields the id.
type TargetRef struct {
	InstanceID string
	FromAction int
}

// LiteralTarget refers to a known instance id.
func LiteralTarget(id string) TargetRef {
	return TargetRef{InstanceID: id, FromAction: -1}
}

// ForwardTarget refers to the instance created by action index i.
func ForwardTarget(i int) TargetRef {
	return TargetRef{FromAction: i}
}

// IsForward reports whether the target is resolved at execution time.
func (t TargetRef) IsForward() bool {
	return t.InstanceID == "" && t.FromAction >= 0
}

func (t TargetRef) String() string {
	if t.IsForward() {
		return fmt.Sprintf("<instance from action %d>", t.FromAction)
	}
	return t.InstanceID
}

type targetJSON struct {
	InstanceID string `json:"instance_id,omitempty"`
	FromAction *int   `json:"from_action,omitempty"`
}

// MarshalJSON encodes exactly one of instance_id and from_action.
func (t TargetRef) MarshalJSON() ([]byte, error) {
	if t.IsForward() {
		i := t.FromAction
		return json.Marshal(targetJSON{FromAction: &i})
	}
	return json.Marshal(targetJSON{InstanceID: t.InstanceID})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (t *TargetRef) UnmarshalJSON(data []byte) error {
	var raw targetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.FromAction != nil {
		*t = ForwardTarget(*raw.FromAction)
		return nil
	}
	*t = LiteralTarget(raw.InstanceID)
	return nil
}

// Action is one step of a plan.
type Action struct {
	Kind ActionKind `json:"kind"`
	// Spec is set for CreateInstance only.
	Spec *InstanceSpec `json:"spec,omitempty"`
	// Target is set for every action except CreateInstance and SkipSoftware.
	Target *TargetRef `json:"target,omitempty"`
}

func (a Action) String() string {
	switch a.Kind {
	case ActionCreateInstance:
		if a.Spec == nil {
			return string(a.Kind)
		}
		return fmt.Sprintf("%s(name=%s, image=%s, size=%s)", a.Kind, a.Spec.Name, a.Spec.Image, a.Spec.Size)
	case ActionSkipSoftware:
		return string(a.Kind)
	default:
		if a.Target == nil {
			return string(a.Kind)
		}
		return fmt.Sprintf("%s(%s)", a.Kind, a.Target)
	}
}

// ActionPlan is the ordered action list of one run. It is built once,
// consumed once by the executor and then discarded.
type ActionPlan struct {
	Actions []Action `json:"actions"`
}

// Kinds returns the action kinds in order.
func (p ActionPlan) Kinds() []ActionKind {
	kinds := make([]ActionKind, len(p.Actions))
	for i, a := range p.Actions {
		kinds[i] = a.Kind
	}
	return kinds
}

// Contains reports whether the plan has an action of kind.
func (p ActionPlan) Contains(kind ActionKind) bool {
	for _, a := range p.Actions {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

// Encode returns the deterministic JSON form written as the plan artifact.
func (p ActionPlan) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return append(data, '\n'), nil
}

// Decode parses a plan artifact.
func Decode(data []byte) (ActionPlan, error) {
	var p ActionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return ActionPlan{}, fmt.Errorf("failed to decode plan: %w", err)
	}
	return p, nil
}

// Equal compares two plans by their encoded form.
func (p ActionPlan) Equal(other ActionPlan) bool {
	a, errA := p.Encode()
	b, errB := other.Encode()
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (p ActionPlan) String() string {
	var b strings.Builder
	for i, a := range p.Actions {
		fmt.Fprintf(&b, "%d. %s\n", i, a)
	}
	return b.String()
}
