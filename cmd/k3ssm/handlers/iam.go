package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/pipeline"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
	"github.com/imamik/k3ssm/internal/util/naming"
	"github.com/imamik/k3ssm/internal/util/tags"
)

// IAM creates or updates the OIDC provider and the two branch-scoped CI
// roles, and prints their ARNs for the identity section of the config.
func IAM(ctx context.Context, opts Options) error {
	return runStage(ctx, pipeline.StageIAM, opts, iamBody)
}

func iamBody(s *session) pipeline.Body {
	return func(rc *pipeline.RunContext) error {
		id := s.cfg.Identity
		if id.Issuer == "" || id.ProjectPath == "" {
			return errors.New("identity.issuer and identity.project_path are required")
		}

		cloud, err := newCloudClient(rc, s.cfg, s.timeouts, rc.Lease, s.log)
		if err != nil {
			return err
		}
		res, err := cloud.EnsureCICDRoles(rc, awsplatform.RolesSpec{
			Issuer:          id.Issuer,
			Audience:        id.Audience,
			ProjectPath:     id.ProjectPath,
			MainRoleName:    naming.CIRole(id.ProjectPath, string(credentials.ClassMain)),
			OtherRoleName:   naming.CIRole(id.ProjectPath, string(credentials.ClassOther)),
			MainPolicyARNs:  id.MainPolicyARNs,
			OtherPolicyARNs: id.OtherPolicyARNs,
			Tags:            tags.NewBuilder(s.cfg.Environment).Build(),
		})
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "oidc provider: %s\n", res.ProviderARN)
		fmt.Fprintf(stdout, "main_role_arn: %s\n", res.MainARN)
		fmt.Fprintf(stdout, "other_role_arn: %s\n", res.OtherARN)
		return nil
	}
}
