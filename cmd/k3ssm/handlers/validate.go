package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/pipeline"
	"github.com/imamik/k3ssm/internal/util/prerequisites"
)

// Validate checks the configuration and the local tools the later stages
// shell out to. It makes no remote calls and needs no credentials.
func Validate(ctx context.Context, opts Options) error {
	return runStage(ctx, pipeline.StageValidate, opts, validateBody)
}

func validateBody(s *session) pipeline.Body {
	return func(rc *pipeline.RunContext) error {
		cfg := s.cfg
		build := cfg.Registry.Type != config.RegistryNone && len(cfg.Registry.Images) > 0
		tools := append(prerequisites.ToolsFor(build, cfg.Access.Tunnel), prerequisites.OptionalTools()...)
		results := checkTools(tools)
		for _, r := range results.Results {
			if r.Found {
				rc.Observer.Printf("found %s at %s", r.Tool.Name, r.Path)
			}
		}
		for _, t := range results.Missing {
			if !t.Required {
				fmt.Fprintf(stdout, "optional %s not found: %s (%s)\n", t.Name, t.Description, t.InstallURL)
			}
		}
		if err := results.Error(); err != nil {
			return err
		}
		rc.Observer.Printf("configuration for %s in %s is valid", cfg.Environment, cfg.Region)
		return nil
	}
}
