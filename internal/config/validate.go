package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/imamik/k3ssm/internal/planner"
)

var environmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,31}$`)

// Validate checks the whole configuration and returns every problem joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Environment == "" {
		add("environment is required")
	} else if !environmentPattern.MatchString(c.Environment) {
		add("environment %q must be lowercase alphanumeric with dashes, at most 32 characters", c.Environment)
	}
	if c.Region == "" {
		add("region is required (or set %s)", EnvRegion)
	}

	partition := planner.Partition(c.Partition)
	if partition != planner.PartitionStandard && partition != planner.PartitionRestricted {
		add("partition %q must be %q or %q", c.Partition, planner.PartitionStandard, planner.PartitionRestricted)
	}

	if c.SkipInstanceCreation {
		if c.Existing == nil || len(c.Existing.Tags) == 0 {
			add("existing_instance.tags is required when skip_instance_creation is true")
		}
	} else {
		errs = append(errs, c.validateInstance()...)
	}

	if c.State.Bucket == "" {
		add("state.bucket is required")
	}
	if c.State.LockTable == "" {
		add("state.lock_table is required")
	}

	prefix := "arn:" + partition.ARNPartition() + ":iam::"
	for _, role := range []struct{ field, arn string }{
		{"identity.main_role_arn", c.Identity.MainRoleARN},
		{"identity.other_role_arn", c.Identity.OtherRoleARN},
	} {
		if role.arn != "" && !strings.HasPrefix(role.arn, prefix) {
			add("%s %q must start with %q", role.field, role.arn, prefix)
		}
	}

	errs = append(errs, c.validateRegistry()...)

	if c.Access.LocalPort < 0 || c.Access.LocalPort > 65535 {
		add("access.local_port %d is out of range", c.Access.LocalPort)
	}

	return errors.Join(errs...)
}

func (c *Config) validateInstance() []error {
	var errs []error
	if c.Instance.AMI == "" {
		errs = append(errs, errors.New("instance.ami is required"))
	}
	if c.Instance.Type == "" {
		errs = append(errs, errors.New("instance.type is required"))
	}
	if c.Instance.InstanceProfile == "" {
		errs = append(errs, errors.New("instance.instance_profile is required (the SSM agent needs it)"))
	}
	if c.Network.SubnetID == "" {
		errs = append(errs, errors.New("network.subnet_id is required"))
	}
	for i, v := range c.Instance.Volumes {
		if v.DeviceName == "" {
			errs = append(errs, fmt.Errorf("instance.volumes[%d].device_name is required", i))
		}
		if v.SizeGiB <= 0 {
			errs = append(errs, fmt.Errorf("instance.volumes[%d].size_gib must be positive", i))
		}
	}
	return errs
}

func (c *Config) validateRegistry() []error {
	var errs []error
	switch c.Registry.Type {
	case RegistryNone:
		return nil
	case RegistryECR:
	case RegistryArtifactory:
		if c.Registry.URL == "" {
			errs = append(errs, errors.New("registry.url is required for artifactory"))
		}
	default:
		return []error{fmt.Errorf("registry.type %q must be one of %s, %s, %s",
			c.Registry.Type, RegistryECR, RegistryArtifactory, RegistryNone)}
	}

	seen := make(map[string]bool)
	for i, img := range c.Registry.Images {
		if img.Name == "" {
			errs = append(errs, fmt.Errorf("registry.images[%d].name is required", i))
			continue
		}
		if seen[img.Name] {
			errs = append(errs, fmt.Errorf("registry.images[%d]: duplicate image %q", i, img.Name))
		}
		seen[img.Name] = true
		if img.Context == "" {
			errs = append(errs, fmt.Errorf("registry.images[%d].context is required", i))
		}
	}
	return errs
}
