package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/util/tags"
)

const (
	iamPolicyVersion         = "2012-10-17"
	iamEffectAllow           = "Allow"
	stsActionWebIdentity     = "sts:AssumeRoleWithWebIdentity"
	protectedBranchRef       = "main"
	ciRoleDescriptionMain    = "k3ssm CI role for the protected branch"
	ciRoleDescriptionOther   = "k3ssm CI role for non-protected branches"
	ciRoleMaxSessionDuration = 3600
)

// RolesSpec describes the two CI roles.
type RolesSpec struct {
	// Issuer is the OIDC issuer URL or host, e.g. https://gitlab.com.
	Issuer string
	// Audience is the expected "aud" claim.
	Audience    string
	ProjectPath string

	MainRoleName    string
	OtherRoleName   string
	MainPolicyARNs  []string
	OtherPolicyARNs []string
	Tags            map[string]string
}

// RolesResult carries the ARNs of the ensured roles.
type RolesResult struct {
	ProviderARN string
	MainARN     string
	OtherARN    string
}

// IssuerHost strips the scheme and trailing slash from an issuer.
func IssuerHost(issuer string) string {
	if u, err := url.Parse(issuer); err == nil && u.Host != "" {
		return strings.TrimSuffix(u.Host+u.Path, "/")
	}
	return strings.TrimSuffix(issuer, "/")
}

// SubjectPrefix is the "sub" claim prefix GitLab issues for branch
// pipelines of a project.
func SubjectPrefix(projectPath string) string {
	return "project_path:" + projectPath + ":ref_type:branch:ref:"
}

// TrustPolicy builds the trust document for one role. The main role trusts
// exactly the protected branch; the other role trusts every branch except
// it.
func TrustPolicy(providerARN, issuerHost, audience, projectPath string, main bool) (string, error) {
	sub := issuerHost + ":sub"
	aud := issuerHost + ":aud"
	mainSubject := SubjectPrefix(projectPath) + protectedBranchRef

	condition := map[string]any{}
	if main {
		condition["StringEquals"] = map[string]any{
			sub: mainSubject,
			aud: audience,
		}
	} else {
		condition["StringEquals"] = map[string]any{aud: audience}
		condition["StringLike"] = map[string]any{sub: SubjectPrefix(projectPath) + "*"}
		condition["StringNotEquals"] = map[string]any{sub: mainSubject}
	}

	policy := map[string]any{
		"Version": iamPolicyVersion,
		"Statement": []map[string]any{
			{
				"Effect": iamEffectAllow,
				"Principal": map[string]any{
					"Federated": providerARN,
				},
				"Action":    stsActionWebIdentity,
				"Condition": condition,
			},
		},
	}

	data, err := json.Marshal(policy)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTrustPolicyMarshal, err)
	}
	return string(data), nil
}

// ProviderARN is the ARN of the OIDC provider for issuerHost.
func ProviderARN(partition planner.Partition, accountID, issuerHost string) string {
	return fmt.Sprintf("arn:%s:iam::%s:oidc-provider/%s", partition.ARNPartition(), accountID, issuerHost)
}

// EnsureCICDRoles creates or updates the OIDC provider and both CI roles.
func (c *RealClient) EnsureCICDRoles(ctx context.Context, spec RolesSpec) (*RolesResult, error) {
	accountID, err := c.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	host := IssuerHost(spec.Issuer)

	providerARN, err := c.ensureOIDCProvider(ctx, accountID, host, spec.Audience, spec.Tags)
	if err != nil {
		return nil, err
	}
	res := &RolesResult{ProviderARN: providerARN}

	roles := []struct {
		main     bool
		name     string
		desc     string
		role     string
		policies []string
		arn      *string
	}{
		{true, spec.MainRoleName, ciRoleDescriptionMain, tags.RoleCIMain, spec.MainPolicyARNs, &res.MainARN},
		{false, spec.OtherRoleName, ciRoleDescriptionOther, tags.RoleCIOther, spec.OtherPolicyARNs, &res.OtherARN},
	}
	for _, r := range roles {
		doc, err := TrustPolicy(providerARN, host, spec.Audience, spec.ProjectPath, r.main)
		if err != nil {
			return nil, err
		}
		roleTags := make(map[string]string, len(spec.Tags)+1)
		for k, v := range spec.Tags {
			roleTags[k] = v
		}
		roleTags[tags.KeyRole] = r.role

		arn, err := c.ensureRole(ctx, r.name, r.desc, doc, roleTags)
		if err != nil {
			return nil, err
		}
		for _, policyARN := range r.policies {
			if err := c.attachPolicy(ctx, r.name, policyARN); err != nil {
				return nil, err
			}
		}
		*r.arn = arn
	}
	return res, nil
}

func (c *RealClient) ensureOIDCProvider(ctx context.Context, accountID, host, audience string, t map[string]string) (string, error) {
	arn := ProviderARN(c.partition, accountID, host)

	_, err := c.iam.GetOpenIDConnectProvider(ctx, &iam.GetOpenIDConnectProviderInput{
		OpenIDConnectProviderArn: aws.String(arn),
	})
	if err == nil {
		c.log.V(1).Info("OIDC provider exists", "arn", arn)
		return arn, nil
	}
	if !IsNotFound(err) {
		return "", fmt.Errorf("failed to get OIDC provider %s: %w", arn, err)
	}

	out, err := c.iam.CreateOpenIDConnectProvider(ctx, &iam.CreateOpenIDConnectProviderInput{
		Url:          aws.String("https://" + host),
		ClientIDList: []string{audience},
		Tags:         iamTags(t),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create OIDC provider for %s: %w", host, err)
	}
	c.log.Info("created OIDC provider", "arn", aws.ToString(out.OpenIDConnectProviderArn))
	return aws.ToString(out.OpenIDConnectProviderArn), nil
}

// ensureRole creates the role, or replaces the trust document of an
// existing one.
func (c *RealClient) ensureRole(ctx context.Context, name, description, trust string, t map[string]string) (string, error) {
	out, err := c.iam.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(name),
		AssumeRolePolicyDocument: aws.String(trust),
		Description:              aws.String(description),
		MaxSessionDuration:       aws.Int32(ciRoleMaxSessionDuration),
		Tags:                     iamTags(t),
	})
	if err == nil {
		c.log.Info("created IAM role", "role_name", name)
		return aws.ToString(out.Role.Arn), nil
	}
	if !IsAlreadyExists(err) {
		return "", fmt.Errorf("failed to create IAM role %s: %w", name, err)
	}

	if _, err := c.iam.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
		RoleName:       aws.String(name),
		PolicyDocument: aws.String(trust),
	}); err != nil {
		return "", fmt.Errorf("failed to update trust policy of %s: %w", name, err)
	}
	got, err := c.iam.GetRole(ctx, &iam.GetRoleInput{RoleName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to get IAM role %s: %w", name, err)
	}
	c.log.Info("updated IAM role trust policy", "role_name", name)
	return aws.ToString(got.Role.Arn), nil
}

func (c *RealClient) attachPolicy(ctx context.Context, roleName, policyARN string) error {
	_, err := c.iam.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(policyARN),
	})
	if err != nil {
		return fmt.Errorf("failed to attach %s to %s: %w", policyARN, roleName, err)
	}
	return nil
}

func iamTags(t map[string]string) []iamtypes.Tag {
	out := make([]iamtypes.Tag, 0, len(t))
	for _, k := range tags.Keys(t) {
		out = append(out, iamtypes.Tag{Key: aws.String(k), Value: aws.String(t[k])})
	}
	return out
}
