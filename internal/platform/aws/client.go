package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/planner"
)

// InstanceManager drives the EC2 instance lifecycle.
type InstanceManager interface {
	// Launch starts one instance. clientToken makes retries of the same
	// launch idempotent.
	Launch(ctx context.Context, spec planner.InstanceSpec, clientToken string) (string, error)
	// Describe returns the current state; a missing instance is reported as
	// StatusNotFound, not as an error.
	Describe(ctx context.Context, instanceID string) (planner.ObservedState, error)
	// FindInstances lists non-terminated instances carrying all tags.
	FindInstances(ctx context.Context, tags map[string]string) ([]planner.ObservedState, error)
	Terminate(ctx context.Context, instanceID string) error
	WaitTerminated(ctx context.Context, instanceID string, timeout time.Duration) error
	Tag(ctx context.Context, instanceID string, tags map[string]string) error
}

// RoleManager maintains the CI roles.
type RoleManager interface {
	EnsureCICDRoles(ctx context.Context, spec RolesSpec) (*RolesResult, error)
}

// RegistryAuthorizer grants access to ECR.
type RegistryAuthorizer interface {
	AuthorizationToken(ctx context.Context) (*RegistryCredentials, error)
	EnsureRepository(ctx context.Context, name string, tags map[string]string) (string, error)
}

// CloudClient combines all interfaces.
type CloudClient interface {
	InstanceManager
	RoleManager
	RegistryAuthorizer
}

type ec2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

type iamAPI interface {
	CreateRole(ctx context.Context, params *iam.CreateRoleInput, optFns ...func(*iam.Options)) (*iam.CreateRoleOutput, error)
	GetRole(ctx context.Context, params *iam.GetRoleInput, optFns ...func(*iam.Options)) (*iam.GetRoleOutput, error)
	UpdateAssumeRolePolicy(ctx context.Context, params *iam.UpdateAssumeRolePolicyInput, optFns ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error)
	AttachRolePolicy(ctx context.Context, params *iam.AttachRolePolicyInput, optFns ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error)
	GetOpenIDConnectProvider(ctx context.Context, params *iam.GetOpenIDConnectProviderInput, optFns ...func(*iam.Options)) (*iam.GetOpenIDConnectProviderOutput, error)
	CreateOpenIDConnectProvider(ctx context.Context, params *iam.CreateOpenIDConnectProviderInput, optFns ...func(*iam.Options)) (*iam.CreateOpenIDConnectProviderOutput, error)
}

type ecrAPI interface {
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// RealClient implements CloudClient using the AWS SDK.
type RealClient struct {
	ec2 ec2API
	iam iamAPI
	ecr ecrAPI
	sts stsAPI

	partition    planner.Partition
	pollInterval time.Duration
	log          logr.Logger
}

// ClientOption configures a RealClient.
type ClientOption func(*RealClient)

// WithPartition sets the partition used to build ARNs.
func WithPartition(p planner.Partition) ClientOption {
	return func(c *RealClient) {
		c.partition = p
	}
}

// WithPollInterval sets the delay between state polls.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *RealClient) {
		c.pollInterval = d
	}
}

// WithLogger sets the client logger.
func WithLogger(log logr.Logger) ClientOption {
	return func(c *RealClient) {
		c.log = log
	}
}

// NewRealClient creates a RealClient from an SDK configuration.
func NewRealClient(cfg aws.Config, opts ...ClientOption) *RealClient {
	c := &RealClient{
		ec2:          ec2.NewFromConfig(cfg),
		iam:          iam.NewFromConfig(cfg),
		ecr:          ecr.NewFromConfig(cfg),
		sts:          sts.NewFromConfig(cfg),
		partition:    planner.PartitionStandard,
		pollInterval: 5 * time.Second,
		log:          logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LoadConfig builds an SDK configuration for region signed with creds.
func LoadConfig(ctx context.Context, region string, creds aws.CredentialsProvider) (aws.Config, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// AccountID returns the account the client is signed into.
func (c *RealClient) AccountID(ctx context.Context) (string, error) {
	out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(out.Account), nil
}

var _ CloudClient = (*RealClient)(nil)
