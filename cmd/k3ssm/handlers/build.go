package handlers

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/pipeline"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
	"github.com/imamik/k3ssm/internal/registry"
	"github.com/imamik/k3ssm/internal/util/tags"
)

// EnvCommitShortSHA is the default image tag.
const EnvCommitShortSHA = "CI_COMMIT_SHORT_SHA"

// BuildOptions are the build flags.
type BuildOptions struct {
	Options
	// Tag overrides CI_COMMIT_SHORT_SHA.
	Tag string
}

// Build builds every configured image, pushes it to the selected registry
// and writes the image manifest for the deploy stage.
func Build(ctx context.Context, opts BuildOptions) error {
	return runStage(ctx, pipeline.StageBuild, opts.Options, func(s *session) pipeline.Body {
		return buildBody(s, opts)
	})
}

func buildBody(s *session, opts BuildOptions) pipeline.Body {
	return func(rc *pipeline.RunContext) error {
		cfg := s.cfg

		var cloud awsplatform.RegistryAuthorizer
		if cfg.Registry.Type == config.RegistryECR {
			c, err := newCloudClient(rc, cfg, s.timeouts, rc.Lease, s.log)
			if err != nil {
				return err
			}
			cloud = c
		}
		repoTags := tags.NewBuilder(cfg.Environment).WithBranchIfSet(rc.Branch).Build()
		backend, err := registry.NewBackend(cfg.Registry, cloud, repoTags, getenv)
		if errors.Is(err, registry.ErrNoRegistry) {
			rc.Observer.Printf("registry type %q: image build skipped", cfg.Registry.Type)
			return nil
		}
		if err != nil {
			return err
		}

		tag := opts.Tag
		if tag == "" {
			tag = getenv(EnvCommitShortSHA)
		}
		if tag == "" {
			return fmt.Errorf("image tag unknown: set %s or pass --tag", EnvCommitShortSHA)
		}

		svc := registry.NewService(backend, newImageBuilder(), newImagePusher(), filepath.Join(cfg.OutputDir, "images"))
		manifest, err := svc.BuildAndPush(rc.Context, cfg.Registry.Images, tag)
		if err != nil {
			return err
		}
		if err := registry.WriteManifest(cfg.OutputDir, manifest); err != nil {
			return err
		}
		rc.Observer.Printf("pushed %d image(s) with tag %s", len(manifest.Images), tag)
		return nil
	}
}
