package commands

import (
	"github.com/spf13/cobra"

	"github.com/imamik/k3ssm/cmd/k3ssm/handlers"
)

// Apply returns the command that creates or reuses the instance and
// installs K3s.
//
// Optional flags:
//
//	--config, -c: Path to configuration YAML file (default: auto-detect k3ssm.yaml)
//	--plan: plan.json that must still match the environment
//	--watch: progress view on a terminal
//
// Environment variables:
//
//	CI_COMMIT_BRANCH: branch the pipeline runs for
//	K3SSM_ID_TOKEN or AWS_WEB_IDENTITY_TOKEN_FILE: CI workload token
func Apply() *cobra.Command {
	var opts handlers.ApplyOptions

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create or reuse the instance and install K3s",
		Long: `Apply reconciles the environment under the state lock.

It observes the instance, plans, launches or reuses the instance, installs
K3s over SSM, extracts a deployer kubeconfig to <output_dir>/kubeconfig and
records the outcome in the state record. A failed run leaves the instance in
place for inspection; destroy removes it.

On the protected branch apply is a manual stage: pass --approve, set
K3SSM_APPROVED=true or confirm the prompt.

Examples:
  # Apply using k3ssm.yaml in the current directory
  k3ssm apply

  # Apply exactly the plan reviewed in an earlier job
  k3ssm apply --plan out/plan.json --approve

  # Follow the actions in a progress view
  k3ssm apply --watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Apply(cmd.Context(), opts)
		},
	}

	bindOptions(cmd, &opts.Options)
	cmd.Flags().StringVar(&opts.PlanFile, "plan", "", "Saved plan.json that must match the current plan")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Show a progress view (terminal only)")

	return cmd
}
