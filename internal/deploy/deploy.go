package deploy

import (
	"errors"
	"fmt"
	"time"

	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/provisioning"
	"github.com/imamik/k3ssm/internal/registry"
)

// Request describes one chart deployment.
type Request struct {
	ChartDir   string
	Release    string
	ValuesFile string
	// Images overrides images.<name> values. Nil keeps the chart defaults.
	Images *registry.Manifest
}

// Deploy installs or upgrades the release described by req.
func Deploy(ctx *provisioning.Context, r Releaser, req Request) error {
	if req.ChartDir == "" {
		return errors.New("no chart configured")
	}

	values, err := LoadValuesFile(req.ValuesFile)
	if err != nil {
		return err
	}
	values = MergeValues(values, ImageValues(req.Images))
	if req.Images == nil {
		ctx.Observer.Printf("no image manifest found, using chart default images")
	}

	provisioning.LogResourceCreating(ctx.Observer, ctx.Stage, "release", req.Release)
	start := time.Now()
	rel, err := r.InstallOrUpgrade(ctx, req.Release, req.ChartDir, values)
	ctx.Metrics.Action("helm-release", metrics.Result(err), time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to deploy release %s: %w", req.Release, err)
	}
	provisioning.LogResourceCreated(ctx.Observer, ctx.Stage, "release", req.Release, fmt.Sprintf("revision %d", rel.Version))
	return nil
}
