package aws

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/util/retry"
	"github.com/imamik/k3ssm/internal/util/tags"
)

// aliveStates are the instance states FindInstances considers.
var aliveStates = []string{"pending", "running", "stopping", "stopped"}

// Launch starts one instance from spec. The same clientToken returns the
// same instance, so transient failures are retried safely.
func (c *RealClient) Launch(ctx context.Context, spec planner.InstanceSpec, clientToken string) (string, error) {
	input := &ec2.RunInstancesInput{
		ImageId:             aws.String(spec.Image),
		InstanceType:        types.InstanceType(spec.Size),
		MinCount:            aws.Int32(1),
		MaxCount:            aws.Int32(1),
		ClientToken:         aws.String(clientToken),
		BlockDeviceMappings: blockDevices(spec.Storage),
		MetadataOptions: &types.InstanceMetadataOptionsRequest{
			HttpTokens:   types.HttpTokensStateRequired,
			HttpEndpoint: types.InstanceMetadataEndpointStateEnabled,
		},
		TagSpecifications: []types.TagSpecification{
			{ResourceType: types.ResourceTypeInstance, Tags: ec2Tags(spec.Tags)},
			{ResourceType: types.ResourceTypeVolume, Tags: ec2Tags(spec.Tags)},
		},
	}
	if spec.Network.SubnetID != "" {
		input.SubnetId = aws.String(spec.Network.SubnetID)
	}
	if len(spec.Network.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = spec.Network.SecurityGroupIDs
	}
	if spec.InstanceProfile != "" {
		input.IamInstanceProfile = &types.IamInstanceProfileSpecification{Name: aws.String(spec.InstanceProfile)}
	}

	var instanceID string
	err := retry.WithExponentialBackoff(ctx, func() error {
		out, err := c.ec2.RunInstances(ctx, input)
		if err != nil {
			if isRetryableLaunch(err) {
				c.log.V(1).Info("instance launch failed, retrying", "error", err.Error())
				return err
			}
			return retry.Fatal(err)
		}
		if len(out.Instances) == 0 || out.Instances[0].InstanceId == nil {
			return retry.Fatal(ErrInstanceLaunchNoID)
		}
		instanceID = aws.ToString(out.Instances[0].InstanceId)
		return nil
	},
		retry.WithMaxRetries(4),
		retry.WithInitialDelay(c.pollInterval),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInstanceLaunch, err)
	}

	c.log.Info("EC2 instance launched", "instance_id", instanceID, "name", spec.Name)
	return instanceID, nil
}

// Describe returns the observed state of instanceID.
func (c *RealClient) Describe(ctx context.Context, instanceID string) (planner.ObservedState, error) {
	out, err := c.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if IsNotFound(err) {
			return planner.ObservedState{InstanceID: instanceID, Status: planner.StatusNotFound}, nil
		}
		return planner.ObservedState{}, fmt.Errorf("%w %s: %w", ErrInstanceDescribe, instanceID, err)
	}
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if aws.ToString(inst.InstanceId) == instanceID {
				return observed(inst), nil
			}
		}
	}
	return planner.ObservedState{InstanceID: instanceID, Status: planner.StatusNotFound}, nil
}

// FindInstances lists the non-terminated instances carrying every tag.
// The result is sorted by instance id.
func (c *RealClient) FindInstances(ctx context.Context, match map[string]string) ([]planner.ObservedState, error) {
	filters := []types.Filter{
		{Name: aws.String("instance-state-name"), Values: aliveStates},
	}
	for _, k := range tags.Keys(match) {
		filters = append(filters, types.Filter{
			Name:   aws.String("tag:" + k),
			Values: []string{match[k]},
		})
	}

	var found []planner.ObservedState
	pager := ec2.NewDescribeInstancesPaginator(c.ec2, &ec2.DescribeInstancesInput{Filters: filters})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInstanceDescribe, err)
		}
		for _, r := range page.Reservations {
			for _, inst := range r.Instances {
				found = append(found, observed(inst))
			}
		}
	}
	sortObserved(found)
	return found, nil
}

// Terminate requests termination. A missing instance is not an error.
func (c *RealClient) Terminate(ctx context.Context, instanceID string) error {
	_, err := c.ec2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w %s: %w", ErrInstanceTerminate, instanceID, err)
	}
	c.log.Info("EC2 instance termination requested", "instance_id", instanceID)
	return nil
}

// WaitTerminated blocks until instanceID is terminated or gone.
func (c *RealClient) WaitTerminated(ctx context.Context, instanceID string, timeout time.Duration) error {
	waiter := ec2.NewInstanceTerminatedWaiter(c.ec2, func(o *ec2.InstanceTerminatedWaiterOptions) {
		o.MinDelay = c.pollInterval
		if o.MaxDelay < o.MinDelay {
			o.MaxDelay = o.MinDelay
		}
	})
	err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}}, timeout)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w %s: %w", ErrInstanceTerminateWait, instanceID, err)
	}
	c.log.Info("EC2 instance terminated", "instance_id", instanceID)
	return nil
}

// Tag adds or replaces tags on instanceID.
func (c *RealClient) Tag(ctx context.Context, instanceID string, t map[string]string) error {
	if len(t) == 0 {
		return nil
	}
	_, err := c.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{instanceID},
		Tags:      ec2Tags(t),
	})
	if err != nil {
		return fmt.Errorf("failed to tag %s: %w", instanceID, err)
	}
	return nil
}

func observed(inst types.Instance) planner.ObservedState {
	o := planner.ObservedState{
		InstanceID:     aws.ToString(inst.InstanceId),
		Status:         planner.StatusNotFound,
		PrivateAddress: aws.ToString(inst.PrivateIpAddress),
	}
	if inst.State != nil {
		o.Status = status(inst.State.Name)
	}
	return o
}

func status(name types.InstanceStateName) planner.InstanceStatus {
	switch name {
	case types.InstanceStateNamePending:
		return planner.StatusPending
	case types.InstanceStateNameRunning:
		return planner.StatusRunning
	case types.InstanceStateNameStopping, types.InstanceStateNameStopped:
		return planner.StatusStopped
	case types.InstanceStateNameShuttingDown, types.InstanceStateNameTerminated:
		return planner.StatusTerminated
	default:
		return planner.StatusNotFound
	}
}

func blockDevices(volumes []planner.Volume) []types.BlockDeviceMapping {
	if len(volumes) == 0 {
		return nil
	}
	out := make([]types.BlockDeviceMapping, 0, len(volumes))
	for _, v := range volumes {
		ebs := &types.EbsBlockDevice{
			VolumeSize:          aws.Int32(v.SizeGiB),
			DeleteOnTermination: aws.Bool(true),
			Encrypted:           aws.Bool(v.Encrypted),
		}
		if v.Type != "" {
			ebs.VolumeType = types.VolumeType(v.Type)
		}
		out = append(out, types.BlockDeviceMapping{
			DeviceName: aws.String(v.DeviceName),
			Ebs:        ebs,
		})
	}
	return out
}

// ec2Tags converts a tag map in key order.
func ec2Tags(t map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(t))
	for _, k := range tags.Keys(t) {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(t[k])})
	}
	return out
}

func sortObserved(s []planner.ObservedState) {
	slices.SortFunc(s, func(a, b planner.ObservedState) int {
		return strings.Compare(a.InstanceID, b.InstanceID)
	})
}
