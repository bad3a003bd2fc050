package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/planner"
)

func apiErr(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

type fakeEC2 struct {
	RunInstancesFunc       func(*ec2.RunInstancesInput) (*ec2.RunInstancesOutput, error)
	DescribeInstancesFunc  func(*ec2.DescribeInstancesInput) (*ec2.DescribeInstancesOutput, error)
	TerminateInstancesFunc func(*ec2.TerminateInstancesInput) (*ec2.TerminateInstancesOutput, error)
	CreateTagsFunc         func(*ec2.CreateTagsInput) (*ec2.CreateTagsOutput, error)

	runCalls []*ec2.RunInstancesInput
}

func (f *fakeEC2) RunInstances(_ context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.runCalls = append(f.runCalls, in)
	return f.RunInstancesFunc(in)
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return f.DescribeInstancesFunc(in)
}

func (f *fakeEC2) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	return f.TerminateInstancesFunc(in)
}

func (f *fakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	return f.CreateTagsFunc(in)
}

type fakeIAM struct {
	roles     map[string]string // name -> trust document
	attached  map[string][]string
	providers map[string]bool
	createErr error
}

func newFakeIAM() *fakeIAM {
	return &fakeIAM{
		roles:     map[string]string{},
		attached:  map[string][]string{},
		providers: map[string]bool{},
	}
}

func roleARN(name string) string {
	return "arn:aws:iam::123456789012:role/" + name
}

func (f *fakeIAM) CreateRole(_ context.Context, in *iam.CreateRoleInput, _ ...func(*iam.Options)) (*iam.CreateRoleOutput, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; ok {
		return nil, apiErr("EntityAlreadyExists")
	}
	f.roles[name] = aws.ToString(in.AssumeRolePolicyDocument)
	return &iam.CreateRoleOutput{Role: &iamtypes.Role{RoleName: in.RoleName, Arn: aws.String(roleARN(name))}}, nil
}

func (f *fakeIAM) GetRole(_ context.Context, in *iam.GetRoleInput, _ ...func(*iam.Options)) (*iam.GetRoleOutput, error) {
	name := aws.ToString(in.RoleName)
	if _, ok := f.roles[name]; !ok {
		return nil, apiErr("NoSuchEntity")
	}
	return &iam.GetRoleOutput{Role: &iamtypes.Role{RoleName: in.RoleName, Arn: aws.String(roleARN(name))}}, nil
}

func (f *fakeIAM) UpdateAssumeRolePolicy(_ context.Context, in *iam.UpdateAssumeRolePolicyInput, _ ...func(*iam.Options)) (*iam.UpdateAssumeRolePolicyOutput, error) {
	f.roles[aws.ToString(in.RoleName)] = aws.ToString(in.PolicyDocument)
	return &iam.UpdateAssumeRolePolicyOutput{}, nil
}

func (f *fakeIAM) AttachRolePolicy(_ context.Context, in *iam.AttachRolePolicyInput, _ ...func(*iam.Options)) (*iam.AttachRolePolicyOutput, error) {
	name := aws.ToString(in.RoleName)
	f.attached[name] = append(f.attached[name], aws.ToString(in.PolicyArn))
	return &iam.AttachRolePolicyOutput{}, nil
}

func (f *fakeIAM) GetOpenIDConnectProvider(_ context.Context, in *iam.GetOpenIDConnectProviderInput, _ ...func(*iam.Options)) (*iam.GetOpenIDConnectProviderOutput, error) {
	if !f.providers[aws.ToString(in.OpenIDConnectProviderArn)] {
		return nil, apiErr("NoSuchEntity")
	}
	return &iam.GetOpenIDConnectProviderOutput{}, nil
}

func (f *fakeIAM) CreateOpenIDConnectProvider(_ context.Context, in *iam.CreateOpenIDConnectProviderInput, _ ...func(*iam.Options)) (*iam.CreateOpenIDConnectProviderOutput, error) {
	arn := "arn:aws:iam::123456789012:oidc-provider/" + aws.ToString(in.Url)[len("https://"):]
	f.providers[arn] = true
	return &iam.CreateOpenIDConnectProviderOutput{OpenIDConnectProviderArn: aws.String(arn)}, nil
}

type fakeECR struct {
	GetAuthorizationTokenFunc func(*ecr.GetAuthorizationTokenInput) (*ecr.GetAuthorizationTokenOutput, error)
	CreateRepositoryFunc      func(*ecr.CreateRepositoryInput) (*ecr.CreateRepositoryOutput, error)
	DescribeRepositoriesFunc  func(*ecr.DescribeRepositoriesInput) (*ecr.DescribeRepositoriesOutput, error)
}

func (f *fakeECR) GetAuthorizationToken(_ context.Context, in *ecr.GetAuthorizationTokenInput, _ ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error) {
	return f.GetAuthorizationTokenFunc(in)
}

func (f *fakeECR) CreateRepository(_ context.Context, in *ecr.CreateRepositoryInput, _ ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error) {
	return f.CreateRepositoryFunc(in)
}

func (f *fakeECR) DescribeRepositories(_ context.Context, in *ecr.DescribeRepositoriesInput, _ ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error) {
	return f.DescribeRepositoriesFunc(in)
}

type fakeSTS struct{ account string }

func (f fakeSTS) GetCallerIdentity(context.Context, *sts.GetCallerIdentityInput, ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{Account: aws.String(f.account)}, nil
}

func testClient(e *fakeEC2, i *fakeIAM, r *fakeECR) *RealClient {
	return &RealClient{
		ec2:          e,
		iam:          i,
		ecr:          r,
		sts:          fakeSTS{account: "123456789012"},
		partition:    planner.PartitionStandard,
		pollInterval: time.Millisecond,
		log:          logr.Discard(),
	}
}
