package credentials

import (
	"fmt"
)

// BranchClass is the outcome of branch classification.
type BranchClass string

const (
	ClassMain  BranchClass = "main"
	ClassOther BranchClass = "other"
)

// ProtectedBranch is the only branch classified as main.
const ProtectedBranch = "main"

// RoleBinding is what a branch class is allowed to assume.
type RoleBinding struct {
	RoleARN string
	Scope   Scope
}

// BranchPolicy maps branch classes to role bindings. It is built once at
// start-up and never changes.
type BranchPolicy struct {
	bindings map[BranchClass]RoleBinding
}

// NewBranchPolicy builds the policy: main gets Full scope, everything else
// ReadOnlyPlan. Role ARNs may be empty when only static credentials are used.
func NewBranchPolicy(mainRoleARN, otherRoleARN string) *BranchPolicy {
	return &BranchPolicy{bindings: map[BranchClass]RoleBinding{
		ClassMain:  {RoleARN: mainRoleARN, Scope: ScopeFull},
		ClassOther: {RoleARN: otherRoleARN, Scope: ScopeReadOnlyPlan},
	}}
}

// Classify is the single authorization decision point. Only an exact match
// of the protected branch is main; prefixes and look-alikes are not.
func Classify(branch string) BranchClass {
	if branch == ProtectedBranch {
		return ClassMain
	}
	return ClassOther
}

// Binding returns the binding for branch.
func (p *BranchPolicy) Binding(branch string) RoleBinding {
	return p.bindings[Classify(branch)]
}

// RoleFor returns the role to assume for branch, failing when none is
// configured for its class.
func (p *BranchPolicy) RoleFor(branch string) (RoleBinding, error) {
	class := Classify(branch)
	b := p.bindings[class]
	if b.RoleARN == "" {
		return RoleBinding{}, fmt.Errorf("no role configured for branch class %q", class)
	}
	return b, nil
}
