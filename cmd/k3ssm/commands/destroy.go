package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/k3ssm/cmd/k3ssm/handlers"
)

// Destroy returns the destroy command.
//
// Destroy uninstalls K3s when k3ssm installed it, terminates the instance
// when k3ssm created it and deletes the state record. Several environments
// can be destroyed at once by repeating --config.
func Destroy() *cobra.Command {
	var opts handlers.DestroyOptions

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Tear down one or more environments",
		Long: `Destroy removes what apply created, based on the state record.

Instances that k3ssm did not create are never terminated; K3s is only
uninstalled when k3ssm installed it.

Example:
  k3ssm destroy -c review-41.yaml -c review-42.yaml --approve

WARNING: This operation is irreversible.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Destroy(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.ConfigPaths, "config", "c", nil, "Configuration file, repeatable (default: k3ssm.yaml)")
	cmd.Flags().StringVar(&opts.Branch, "branch", "", "Branch to act for (default: CI_COMMIT_BRANCH)")
	cmd.Flags().BoolVar(&opts.Approve, "approve", false, "Approve the stage (or set K3SSM_APPROVED=true)")

	return cmd
}
