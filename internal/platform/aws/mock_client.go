package aws

import (
	"context"
	"time"

	"github.com/imamik/k3ssm/internal/planner"
)

// MockClient is a mock implementation of CloudClient.
type MockClient struct {
	LaunchFunc         func(ctx context.Context, spec planner.InstanceSpec, clientToken string) (string, error)
	DescribeFunc       func(ctx context.Context, instanceID string) (planner.ObservedState, error)
	FindInstancesFunc  func(ctx context.Context, tags map[string]string) ([]planner.ObservedState, error)
	TerminateFunc      func(ctx context.Context, instanceID string) error
	WaitTerminatedFunc func(ctx context.Context, instanceID string, timeout time.Duration) error
	TagFunc            func(ctx context.Context, instanceID string, tags map[string]string) error

	EnsureCICDRolesFunc func(ctx context.Context, spec RolesSpec) (*RolesResult, error)

	AuthorizationTokenFunc func(ctx context.Context) (*RegistryCredentials, error)
	EnsureRepositoryFunc   func(ctx context.Context, name string, tags map[string]string) (string, error)
}

var _ CloudClient = (*MockClient)(nil)

// Launch mocks instance launch.
func (m *MockClient) Launch(ctx context.Context, spec planner.InstanceSpec, clientToken string) (string, error) {
	if m.LaunchFunc != nil {
		return m.LaunchFunc(ctx, spec, clientToken)
	}
	return "i-mock", nil
}

// Describe mocks instance lookup. The default reports a running instance.
func (m *MockClient) Describe(ctx context.Context, instanceID string) (planner.ObservedState, error) {
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, instanceID)
	}
	return planner.ObservedState{InstanceID: instanceID, Status: planner.StatusRunning, PrivateAddress: "10.0.0.10"}, nil
}

// FindInstances mocks tag search.
func (m *MockClient) FindInstances(ctx context.Context, t map[string]string) ([]planner.ObservedState, error) {
	if m.FindInstancesFunc != nil {
		return m.FindInstancesFunc(ctx, t)
	}
	return nil, nil
}

// Terminate mocks instance termination.
func (m *MockClient) Terminate(ctx context.Context, instanceID string) error {
	if m.TerminateFunc != nil {
		return m.TerminateFunc(ctx, instanceID)
	}
	return nil
}

// WaitTerminated mocks the termination waiter.
func (m *MockClient) WaitTerminated(ctx context.Context, instanceID string, timeout time.Duration) error {
	if m.WaitTerminatedFunc != nil {
		return m.WaitTerminatedFunc(ctx, instanceID, timeout)
	}
	return nil
}

// Tag mocks tagging.
func (m *MockClient) Tag(ctx context.Context, instanceID string, t map[string]string) error {
	if m.TagFunc != nil {
		return m.TagFunc(ctx, instanceID, t)
	}
	return nil
}

// EnsureCICDRoles mocks role setup.
func (m *MockClient) EnsureCICDRoles(ctx context.Context, spec RolesSpec) (*RolesResult, error) {
	if m.EnsureCICDRolesFunc != nil {
		return m.EnsureCICDRolesFunc(ctx, spec)
	}
	return &RolesResult{
		ProviderARN: "arn:aws:iam::123456789012:oidc-provider/gitlab.com",
		MainARN:     "arn:aws:iam::123456789012:role/" + spec.MainRoleName,
		OtherARN:    "arn:aws:iam::123456789012:role/" + spec.OtherRoleName,
	}, nil
}

// AuthorizationToken mocks the ECR login.
func (m *MockClient) AuthorizationToken(ctx context.Context) (*RegistryCredentials, error) {
	if m.AuthorizationTokenFunc != nil {
		return m.AuthorizationTokenFunc(ctx)
	}
	return &RegistryCredentials{Username: "AWS", Password: "mock", Registry: "123456789012.dkr.ecr.us-east-1.amazonaws.com"}, nil
}

// EnsureRepository mocks repository setup.
func (m *MockClient) EnsureRepository(ctx context.Context, name string, t map[string]string) (string, error) {
	if m.EnsureRepositoryFunc != nil {
		return m.EnsureRepositoryFunc(ctx, name, t)
	}
	return "123456789012.dkr.ecr.us-east-1.amazonaws.com/" + name, nil
}
