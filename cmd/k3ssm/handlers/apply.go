package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/bootstrap"
	"github.com/imamik/k3ssm/internal/pipeline"
	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/provisioning"
	"github.com/imamik/k3ssm/internal/statelock"
	"github.com/imamik/k3ssm/internal/ui/tui"
	"github.com/imamik/k3ssm/internal/util/naming"
)

// ErrStalePlan is returned when the saved plan no longer matches what the
// environment needs.
var ErrStalePlan = errors.New("stale plan")

// ApplyOptions are the apply flags.
type ApplyOptions struct {
	Options
	// PlanFile is a plan.json from an earlier plan stage that must still hold.
	PlanFile string
	// Watch shows the progress view on a terminal.
	Watch bool
}

// planAnnouncer is implemented by observers that show the plan as soon as
// it is known.
type planAnnouncer interface {
	AnnouncePlan(plan planner.ActionPlan)
}

// runApplyView runs fn behind the progress view.
var runApplyView = func(ctx context.Context, environment, region string, fn func(ctx context.Context, observer provisioning.Observer) error) error {
	return tui.RunApply(ctx, environment, region, nil, fn)
}

// Apply reconciles the environment: under the state lock it plans against
// the live cloud, executes the plan, records the outcome and writes the
// kubeconfig artifact.
//
// A failed run still records whatever instance it created, so destroy can
// clean it up. Nothing is rolled back.
func Apply(ctx context.Context, opts ApplyOptions) error {
	return withLogger(func(log logr.Logger) error {
		watch := opts.Watch && isInteractive()
		// The view owns the terminal, so the approval prompt cannot run
		// inside it.
		s, err := prepare(pipeline.StageApply, opts.ConfigPath, opts.Options, log, !watch)
		if err != nil {
			return err
		}

		in := pipeline.RunInput{Body: applyBody(s, opts)}
		if !watch {
			return s.run(ctx, pipeline.StageApply, opts.Options, in)
		}
		start := time.Now()
		err = runApplyView(ctx, s.cfg.Environment, s.cfg.Region, func(ctx context.Context, observer provisioning.Observer) error {
			in.Observer = observer
			return s.execute(ctx, pipeline.StageApply, opts.Options, in)
		})
		fmt.Fprintln(stdout, pipeline.RenderResult(pipeline.StageApply, time.Since(start), err))
		return err
	})
}

func applyBody(s *session, opts ApplyOptions) pipeline.Body {
	return func(rc *pipeline.RunContext) error {
		cfg := s.cfg
		cloud, err := newCloudClient(rc, cfg, s.timeouts, rc.Lease, s.log)
		if err != nil {
			return err
		}
		store, rec, err := s.readRecord(rc)
		if err != nil {
			return err
		}

		r, err := reconcile(rc, cfg, cloud, rec)
		if err != nil {
			return err
		}
		if opts.PlanFile != "" {
			saved, err := readPlan(opts.PlanFile)
			if err != nil {
				return err
			}
			if !saved.Equal(r.plan) {
				return fmt.Errorf("%w: %s no longer matches the environment, run plan again\nsaved:\n%s\ncurrent:\n%s",
					ErrStalePlan, opts.PlanFile, saved, r.plan)
			}
		}
		if a, ok := rc.Observer.(planAnnouncer); ok {
			a.AnnouncePlan(r.plan)
		}
		if _, err := writePlan(cfg.OutputDir, r.plan); err != nil {
			return err
		}

		agent, err := newAgentChannel(rc, cfg, s.timeouts, rc.Lease, rc.Metrics, s.log)
		if err != nil {
			return err
		}
		exec := bootstrap.NewExecutor(cloud, agent,
			bootstrap.WithInstallOptions(bootstrap.InstallOptions{Version: cfg.K3s.Version, ExtraArgs: cfg.K3s.ExtraArgs}),
			bootstrap.WithClientToken(naming.ClientToken(cfg.Environment, newLaunchID())),
		)

		result, execErr := exec.Execute(rc.Context, r.plan, rc.Lease, r.observed)
		if result == nil || result.Instance.InstanceID == "" {
			return execErr
		}

		next := recordFor(rc.Branch, cfg.Environment, result, rec)
		if err := store.Write(rc, rc.Lock, next); err != nil {
			return errors.Join(execErr, fmt.Errorf("failed to record state: %w", err))
		}
		rc.Observer.Printf("state recorded at serial %d", next.Serial)

		if result.Artifact != nil {
			path, err := result.Artifact.WriteFile(cfg.OutputDir)
			if err != nil {
				return errors.Join(execErr, err)
			}
			rc.Observer.Printf("cluster access written to %s", path)
		}
		return execErr
	}
}

// recordFor builds the state record after a run. Software installed by an
// earlier run on the same instance stays attributed to k3ssm.
func recordFor(branch, environment string, result *bootstrap.Result, prev *statelock.Record) *statelock.Record {
	next := &statelock.Record{
		Environment:       environment,
		InstanceID:        result.Instance.InstanceID,
		PrivateAddress:    result.Instance.PrivateAddress,
		InstanceManaged:   result.InstanceManaged,
		SoftwareInstalled: result.SoftwareInstalled,
		Branch:            branch,
	}
	if prev != nil {
		next.Serial = prev.Serial
		if prev.InstanceID == next.InstanceID {
			next.InstanceManaged = next.InstanceManaged || prev.InstanceManaged
			next.SoftwareInstalled = next.SoftwareInstalled || prev.SoftwareInstalled
		}
	}
	return next
}
