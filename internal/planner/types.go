package planner

import (
	"maps"
	"slices"
)

// Partition selects the AWS partition a run targets.
type Partition string

const (
	// PartitionStandard is the commercial partition ("aws").
	PartitionStandard Partition = "standard"
	// PartitionRestricted is the GovCloud partition ("aws-us-gov").
	PartitionRestricted Partition = "restricted"
)

// ARNPartition returns the partition segment used in ARNs.
func (p Partition) ARNPartition() string {
	if p == PartitionRestricted {
		return "aws-us-gov"
	}
	return "aws"
}

// Volume is one EBS block device of the instance.
type Volume struct {
	DeviceName string `json:"device_name"`
	SizeGiB    int32  `json:"size_gib"`
	Type       string `json:"type,omitempty"`
	Encrypted  bool   `json:"encrypted,omitempty"`
}

// NetworkSpec places the instance.
type NetworkSpec struct {
	VPCID            string   `json:"vpc_id,omitempty"`
	SubnetID         string   `json:"subnet_id"`
	SecurityGroupIDs []string `json:"security_group_ids,omitempty"`
}

// InstanceSpec describes the instance to create.
type InstanceSpec struct {
	Name            string            `json:"name"`
	Image           string            `json:"image"`
	Size            string            `json:"size"`
	Storage         []Volume          `json:"storage,omitempty"`
	Network         NetworkSpec       `json:"network"`
	InstanceProfile string            `json:"instance_profile,omitempty"`
	Tags            map[string]string `json:"tags,omitempty"`
}

// Clone returns a deep copy of s.
func (s InstanceSpec) Clone() InstanceSpec {
	out := s
	out.Storage = slices.Clone(s.Storage)
	out.Network.SecurityGroupIDs = slices.Clone(s.Network.SecurityGroupIDs)
	out.Tags = maps.Clone(s.Tags)
	return out
}

// InstanceSelector finds an existing instance by tags.
type InstanceSelector struct {
	Tags map[string]string `json:"tags"`
}

// DesiredState is the immutable input of one run.
type DesiredState struct {
	SkipInstanceCreation bool
	SkipSoftwareInstall  bool
	InstanceSpec         InstanceSpec
	ExistingSelector     *InstanceSelector
	Region               string
	Partition            Partition
}

// InstanceStatus is the lifecycle state of an observed instance.
type InstanceStatus string

const (
	StatusPending    InstanceStatus = "Pending"
	StatusRunning    InstanceStatus = "Running"
	StatusStopped    InstanceStatus = "Stopped"
	StatusTerminated InstanceStatus = "Terminated"
	StatusNotFound   InstanceStatus = "NotFound"
)

// ObservedState is what the cloud reported at plan time. It is never cached
// across runs.
type ObservedState struct {
	InstanceID     string         `json:"instance_id,omitempty"`
	Status         InstanceStatus `json:"status"`
	PrivateAddress string         `json:"private_address,omitempty"`
}

// NotFound is the observation of an absent instance.
func NotFound() ObservedState {
	return ObservedState{Status: StatusNotFound}
}

// Running reports whether the observation is a concrete running instance.
func (o ObservedState) Running() bool {
	return o.InstanceID != "" && o.Status == StatusRunning
}
