package handlers

import (
	"context"

	"github.com/imamik/k3ssm/internal/k8s"
	"github.com/imamik/k3ssm/internal/pipeline"
)

// Test checks nodes, deployments and release pods and writes the report.
// A failed check fails the stage after the report is written.
func Test(ctx context.Context, opts Options) error {
	return runStage(ctx, pipeline.StageTest, opts, testBody)
}

func testBody(s *session) pipeline.Body {
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

		checker, err := newClusterChecker(target)
		if err != nil {
			return err
		}
		report, runErr := checker.Run(rc.Context, k8s.CheckSpec{
			Namespace:   cfg.Deploy.Namespace,
			Release:     cfg.Deploy.Release,
			Deployments: cfg.Deploy.Deployments,
			Interval:    s.timeouts.PollInterval,
			Timeout:     s.timeouts.ClusterChecks,
		})
		if report != nil {
			path, err := k8s.WriteReport(cfg.OutputDir, report)
			if err != nil {
				return err
			}
			rc.Observer.Printf("test report written to %s", path)
		}
		return runErr
	}
}
