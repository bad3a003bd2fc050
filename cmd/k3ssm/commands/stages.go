package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/k3ssm/cmd/k3ssm/handlers"
)

// Validate returns the validate command.
func Validate() *cobra.Command {
	var opts handlers.Options

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and local tools",
		Long: `Validate loads and validates the configuration and checks that the
local tools later stages need are installed: docker when images are built,
session-manager-plugin when the cluster API is reached through a tunnel.

It makes no remote calls and needs no credentials.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Validate(cmd.Context(), opts)
		},
	}
	bindOptions(cmd, &opts)
	return cmd
}

// Plan returns the plan command.
func Plan() *cobra.Command {
	var opts handlers.Options

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what apply would do",
		Long: `Plan observes the environment and writes the action plan to
<output_dir>/plan.json without changing anything.

Pass the file to 'k3ssm apply --plan' to make sure apply runs exactly this plan.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Plan(cmd.Context(), opts)
		},
	}
	bindOptions(cmd, &opts)
	return cmd
}

// Build returns the build command.
func Build() *cobra.Command {
	var opts handlers.BuildOptions

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build and push the application images",
		Long: `Build runs docker build for every configured image and pushes the result
to the selected registry (ecr or artifactory). With registry type none the
stage is skipped.

The image tag defaults to CI_COMMIT_SHORT_SHA. The pushed references are
written to <output_dir>/images.json for the deploy stage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Build(cmd.Context(), opts)
		},
	}
	bindOptions(cmd, &opts.Options)
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Image tag (default: CI_COMMIT_SHORT_SHA)")
	return cmd
}

// Deploy returns the deploy command.
func Deploy() *cobra.Command {
	var opts handlers.Options

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Install or upgrade the Helm release",
		Long: `Deploy installs or upgrades the configured chart with the kubeconfig
written by apply. Image repositories and tags from the last build override
the values file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Deploy(cmd.Context(), opts)
		},
	}
	bindOptions(cmd, &opts)
	return cmd
}

// Test returns the test command.
func Test() *cobra.Command {
	var opts handlers.Options

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Check nodes, deployments and release pods",
		Long: `Test waits for every node to be Ready, the deployments to be available
and the release pods to run, then writes <output_dir>/test-report.json.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Test(cmd.Context(), opts)
		},
	}
	bindOptions(cmd, &opts)
	return cmd
}

// IAM returns the iam command.
func IAM() *cobra.Command {
	var opts handlers.Options

	cmd := &cobra.Command{
		Use:   "iam",
		Short: "Create the branch-scoped CI roles",
		Long: `IAM creates or updates the OIDC provider of the CI issuer and two roles:
one assumable from the protected branch with full access, one from every
other branch restricted to planning. Their ARNs are printed for the identity
section of the configuration.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.IAM(cmd.Context(), opts)
		},
	}
	bindOptions(cmd, &opts)
	return cmd
}

// Init returns the init command.
func Init() *cobra.Command {
	var opts handlers.Options

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the state bucket and lock table",
		Long: `Init creates the versioned, private S3 bucket holding the state record
and the DynamoDB table holding the state lock. Existing resources are kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Init(cmd.Context(), opts)
		},
	}
	bindOptions(cmd, &opts)
	return cmd
}
