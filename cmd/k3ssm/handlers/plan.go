package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/pipeline"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/statelock"
)

// PlanFilename is the plan artifact inside the output directory.
const PlanFilename = "plan.json"

// Plan observes the environment and writes the action plan without
// changing anything.
func Plan(ctx context.Context, opts Options) error {
	return runStage(ctx, pipeline.StagePlan, opts, planBody)
}

func planBody(s *session) pipeline.Body {
	return func(rc *pipeline.RunContext) error {
		cloud, err := newCloudClient(rc, s.cfg, s.timeouts, rc.Lease, s.log)
		if err != nil {
			return err
		}
		_, rec, err := s.readRecord(rc)
		if err != nil {
			return err
		}
		r, err := reconcile(rc, s.cfg, cloud, rec)
		if err != nil {
			return err
		}

		path, err := writePlan(s.cfg.OutputDir, r.plan)
		if err != nil {
			return err
		}
		rc.Observer.Printf("plan written to %s", path)
		fmt.Fprintln(stdout, pipeline.RenderPlan(s.cfg.Environment, r.plan))
		return nil
	}
}

// reconciliation is the input and output of one planning pass.
type reconciliation struct {
	desired  planner.DesiredState
	observed planner.ObservedState
	plan     planner.ActionPlan
}

// reconcile refuses to plan over a live managed instance the configuration
// no longer reuses, then observes and plans.
func reconcile(rc *pipeline.RunContext, cfg *config.Config, cloud awsplatform.InstanceManager, rec *statelock.Record) (*reconciliation, error) {
	desired := cfg.DesiredState(rc.Branch)

	if rec != nil && rec.InstanceManaged && rec.InstanceID != "" && !desired.SkipInstanceCreation {
		obs, err := cloud.Describe(rc, rec.InstanceID)
		if err != nil {
			return nil, fmt.Errorf("failed to check recorded instance %s: %w", rec.InstanceID, err)
		}
		if obs.Status != planner.StatusNotFound && obs.Status != planner.StatusTerminated {
			return nil, &planner.PlanError{
				Kind: planner.ContradictoryState,
				Message: fmt.Sprintf("state records managed instance %s which is still %s; "+
					"set skip_instance_creation with an existing_instance selector or run destroy first", rec.InstanceID, obs.Status),
				Observed: &obs,
			}
		}
	}

	observed, err := planner.Observe(rc, cloud, desired)
	if err != nil {
		return nil, err
	}
	plan, err := planner.Plan(desired, observed)
	if err != nil {
		return nil, err
	}
	return &reconciliation{desired: desired, observed: observed, plan: plan}, nil
}

func writePlan(dir string, plan planner.ActionPlan) (string, error) {
	data, err := plan.Encode()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, PlanFilename)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write plan: %w", err)
	}
	return path, nil
}

func readPlan(path string) (planner.ActionPlan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return planner.ActionPlan{}, fmt.Errorf("failed to read plan: %w", err)
	}
	plan, err := planner.Decode(data)
	if err != nil {
		return planner.ActionPlan{}, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	return plan, nil
}
