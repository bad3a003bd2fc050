package config

import (
	"maps"
	"slices"

	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/util/naming"
	"github.com/imamik/k3ssm/internal/util/tags"
)

// DesiredState converts the configuration into the planner input for a run
// on branch. The result shares no memory with c.
func (c *Config) DesiredState(branch string) planner.DesiredState {
	volumes := make([]planner.Volume, len(c.Instance.Volumes))
	for i, v := range c.Instance.Volumes {
		volumes[i] = planner.Volume{
			DeviceName: v.DeviceName,
			SizeGiB:    v.SizeGiB,
			Type:       v.Type,
			Encrypted:  v.Encrypted,
		}
	}

	d := planner.DesiredState{
		SkipInstanceCreation: c.SkipInstanceCreation,
		SkipSoftwareInstall:  c.SkipK3sInstall,
		InstanceSpec: planner.InstanceSpec{
			Name:    c.Instance.Name,
			Image:   c.Instance.AMI,
			Size:    c.Instance.Type,
			Storage: volumes,
			Network: planner.NetworkSpec{
				VPCID:            c.Network.VPCID,
				SubnetID:         c.Network.SubnetID,
				SecurityGroupIDs: slices.Clone(c.Network.SecurityGroupIDs),
			},
			InstanceProfile: c.Instance.InstanceProfile,
			Tags: tags.NewBuilder(c.Environment).
				WithName(c.Instance.Name).
				WithRole(tags.RoleInstance).
				WithBranchIfSet(branch).
				Merge(c.Instance.Tags).
				Build(),
		},
		Region:    c.Region,
		Partition: planner.Partition(c.Partition),
	}

	if c.Existing != nil {
		d.ExistingSelector = &planner.InstanceSelector{Tags: maps.Clone(c.Existing.Tags)}
	}

	return d
}

// LockID is the lock table key guarding this environment's state.
func (c *Config) LockID() string {
	return naming.LockID(c.State.Bucket, c.State.Key)
}
