// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument parsing,
// flag binding, and validation. Command execution is delegated to handler
// functions in the handlers package.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/k3ssm/cmd/k3ssm/handlers"
)

// Root returns the root command for the k3ssm CLI.
//
// Errors are printed by main, which also maps them to exit codes, so cobra
// stays silent about them.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "k3ssm",
		Short:         "Run a single-node K3s pipeline on EC2 over SSM",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Backend setup
	cmd.AddCommand(Init())
	cmd.AddCommand(IAM())

	// Pipeline stages
	cmd.AddCommand(Validate())
	cmd.AddCommand(Plan())
	cmd.AddCommand(Apply())
	cmd.AddCommand(Build())
	cmd.AddCommand(Deploy())
	cmd.AddCommand(Test())
	cmd.AddCommand(Destroy())

	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}

// bindOptions adds the flags every stage shares.
func bindOptions(cmd *cobra.Command, opts *handlers.Options) {
	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (default: k3ssm.yaml)")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "Branch to act for (default: CI_COMMIT_BRANCH)")
	cmd.Flags().BoolVar(&opts.Approve, "approve", false, "Approve a manually gated stage (or set K3SSM_APPROVED=true)")
}
