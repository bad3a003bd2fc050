package credentials

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type fakeWebIdentity struct {
	AssumeRoleWithWebIdentityFunc func(ctx context.Context, in *sts.AssumeRoleWithWebIdentityInput) (*sts.AssumeRoleWithWebIdentityOutput, error)
	calls                         []*sts.AssumeRoleWithWebIdentityInput
}

func (f *fakeWebIdentity) AssumeRoleWithWebIdentity(ctx context.Context, in *sts.AssumeRoleWithWebIdentityInput, _ ...func(*sts.Options)) (*sts.AssumeRoleWithWebIdentityOutput, error) {
	f.calls = append(f.calls, in)
	if f.AssumeRoleWithWebIdentityFunc != nil {
		return f.AssumeRoleWithWebIdentityFunc(ctx, in)
	}
	return &sts.AssumeRoleWithWebIdentityOutput{}, nil
}

type fakeCallerIdentity struct {
	GetCallerIdentityFunc func(ctx context.Context) (*sts.GetCallerIdentityOutput, error)
	calls                 int
}

func (f *fakeCallerIdentity) GetCallerIdentity(ctx context.Context, _ *sts.GetCallerIdentityInput, _ ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	f.calls++
	if f.GetCallerIdentityFunc != nil {
		return f.GetCallerIdentityFunc(ctx)
	}
	return &sts.GetCallerIdentityOutput{}, nil
}
