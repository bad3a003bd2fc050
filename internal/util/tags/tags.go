package tags

import (
	"maps"
	"slices"
)

// Standard tag keys.
const (
	// KeyName is the tag the EC2 console displays.
	KeyName = "Name"

	// KeyEnvironment identifies which environment a resource belongs to.
	KeyEnvironment = "k3ssm.io/environment"

	// KeyManagedBy identifies the management system.
	KeyManagedBy = "k3ssm.io/managed-by"

	// KeyBranch records the branch whose pipeline created the resource.
	KeyBranch = "k3ssm.io/branch"

	// KeyRole identifies the role of a resource (instance, ci-role).
	KeyRole = "k3ssm.io/role"

	// KeySoftware is set once K3s has been installed on an instance.
	KeySoftware = "k3ssm.io/software"
)

// Role values.
const (
	RoleInstance = "k3s-server"
	RoleCIMain   = "ci-main"
	RoleCIOther  = "ci-other"
)

// SoftwareK3s is the KeySoftware value after a successful install.
const SoftwareK3s = "k3s"

// ManagedByK3ssm marks resources created by this tool.
const ManagedByK3ssm = "k3ssm"

// Builder provides a fluent interface for building AWS resource tags.
type Builder struct {
	tags map[string]string
}

// NewBuilder creates a builder with the environment and manager pre-set.
func NewBuilder(environment string) *Builder {
	return &Builder{
		tags: map[string]string{
			KeyEnvironment: environment,
			KeyManagedBy:   ManagedByK3ssm,
		},
	}
}

// WithName sets the console name tag.
func (b *Builder) WithName(name string) *Builder {
	if name != "" {
		b.tags[KeyName] = name
	}
	return b
}

// WithRole adds a role tag.
func (b *Builder) WithRole(role string) *Builder {
	b.tags[KeyRole] = role
	return b
}

// WithBranchIfSet adds the branch tag only if branch is non-empty.
func (b *Builder) WithBranchIfSet(branch string) *Builder {
	if branch != "" {
		b.tags[KeyBranch] = branch
	}
	return b
}

// Merge adds all tags from the provided map. User tags never override the
// environment and manager keys.
func (b *Builder) Merge(extra map[string]string) *Builder {
	for k, v := range extra {
		if k == KeyEnvironment || k == KeyManagedBy {
			continue
		}
		b.tags[k] = v
	}
	return b
}

// Build returns a copy of the tags map.
func (b *Builder) Build() map[string]string {
	return maps.Clone(b.tags)
}

// Keys returns the tag keys in sorted order.
func Keys(tags map[string]string) []string {
	return slices.Sorted(maps.Keys(tags))
}

// IsManaged reports whether tags mark a resource as created by k3ssm for env.
func IsManaged(tags map[string]string, environment string) bool {
	return tags[KeyManagedBy] == ManagedByK3ssm && tags[KeyEnvironment] == environment
}
