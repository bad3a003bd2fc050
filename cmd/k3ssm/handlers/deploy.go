package handlers

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/imamik/k3ssm/internal/access"
	"github.com/imamik/k3ssm/internal/deploy"
	"github.com/imamik/k3ssm/internal/pipeline"
	"github.com/imamik/k3ssm/internal/platform/ssm"
	"github.com/imamik/k3ssm/internal/registry"
)

// Deploy installs or upgrades the application release with the images of
// the last build.
func Deploy(ctx context.Context, opts Options) error {
	return runStage(ctx, pipeline.StageDeploy, opts, deployBody)
}

func deployBody(s *session) pipeline.Body {
	return func(rc *pipeline.RunContext) error {
		cfg := s.cfg
		target, closeTunnel, err := s.connect(rc)
		if err != nil {
			return err
		}
		defer func() {
			if err := closeTunnel(); err != nil {
				s.log.Error(err, "failed to close tunnel")
			}
		}()

		rel, err := newReleaser(target, cfg.Deploy.Namespace, s.timeouts.HelmOperations, s.log)
		if err != nil {
			return err
		}
		manifest, err := registry.ReadManifest(cfg.OutputDir)
		if err != nil {
			return err
		}
		return deploy.Deploy(rc.Context, rel, deploy.Request{
			ChartDir:   cfg.Deploy.Chart,
			Release:    cfg.Deploy.Release,
			ValuesFile: cfg.Deploy.ValuesFile,
			Images:     manifest,
		})
	}
}

// connect loads the kubeconfig artifact and, when configured, opens the
// SSM tunnel to the recorded instance. The returned artifact is only valid
// until close is called.
func (s *session) connect(rc *pipeline.RunContext) (*access.Artifact, func() error, error) {
	cfg := s.cfg
	a, err := loadArtifact(filepath.Join(cfg.OutputDir, access.KubeconfigFilename))
	if err != nil {
		return nil, nil, fmt.Errorf("cluster access unavailable, run apply first: %w", err)
	}

	var agent ssm.Channel
	var instanceID string
	if cfg.Access.Tunnel {
		_, rec, err := s.readRecord(rc)
		if err != nil {
			return nil, nil, err
		}
		if rec == nil {
			return nil, nil, errNoRecord
		}
		instanceID = rec.InstanceID
		agent, err = newAgentChannel(rc, cfg, s.timeouts, rc.Lease, rc.Metrics, s.log)
		if err != nil {
			return nil, nil, err
		}
	}

	target, closeTunnel, err := deploy.Connect(rc, agent, instanceID, a, cfg.Access)
	if err != nil {
		return nil, nil, err
	}
	rc.Observer.Printf("cluster API at %s", target.Endpoint.Host)
	return target, closeTunnel, nil
}
