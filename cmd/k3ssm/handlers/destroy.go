package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/bootstrap"
	"github.com/imamik/k3ssm/internal/pipeline"
	"github.com/imamik/k3ssm/internal/util/async"
)

// DestroyOptions are the destroy flags.
type DestroyOptions struct {
	Options
	// ConfigPaths lists one configuration per environment. Empty uses
	// Options.ConfigPath.
	ConfigPaths []string
}

// Destroy tears down one or more environments. Each environment runs under
// its own state lock; several are destroyed in parallel and every failure is
// reported.
func Destroy(ctx context.Context, opts DestroyOptions) error {
	paths := opts.ConfigPaths
	if len(paths) == 0 {
		paths = []string{opts.ConfigPath}
	}

	return withLogger(func(log logr.Logger) error {
		// Parallel prompts would fight over the terminal, so several
		// environments need --approve or K3SSM_APPROVED.
		interactive := len(paths) == 1

		sessions := make([]*session, 0, len(paths))
		for _, path := range paths {
			s, err := prepare(pipeline.StageDestroy, path, opts.Options, log, interactive)
			if err != nil {
				return err
			}
			sessions = append(sessions, s)
		}
		if err := uniqueLocks(sessions); err != nil {
			return err
		}

		if len(sessions) == 1 {
			s := sessions[0]
			return s.run(ctx, pipeline.StageDestroy, opts.Options, pipeline.RunInput{Body: destroyBody(s)})
		}

		tasks := make([]async.Task, len(sessions))
		for i, s := range sessions {
			tasks[i] = async.Task{
				Name: s.cfg.Environment,
				Func: func(ctx context.Context) error {
					return s.run(ctx, pipeline.StageDestroy, opts.Options, pipeline.RunInput{Body: destroyBody(s)})
				},
			}
		}
		return async.RunParallel(ctx, tasks)
	})
}

// uniqueLocks rejects two configurations sharing one state object; they
// would contend for the same lock.
func uniqueLocks(sessions []*session) error {
	seen := make(map[string]string, len(sessions))
	for _, s := range sessions {
		id := s.cfg.LockID()
		if other, ok := seen[id]; ok {
			return fmt.Errorf("environments %s and %s share state %s", other, s.cfg.Environment, id)
		}
		seen[id] = s.cfg.Environment
	}
	return nil
}

func destroyBody(s *session) pipeline.Body {
	return func(rc *pipeline.RunContext) error {
		store, rec, err := s.readRecord(rc)
		if err != nil {
			return err
		}
		if rec == nil {
			rc.Observer.Printf("no state recorded for %s, nothing to destroy", s.cfg.Environment)
			return nil
		}

		cloud, err := newCloudClient(rc, s.cfg, s.timeouts, rc.Lease, s.log)
		if err != nil {
			return err
		}
		agent, err := newAgentChannel(rc, s.cfg, s.timeouts, rc.Lease, rc.Metrics, s.log)
		if err != nil {
			return err
		}

		exec := bootstrap.NewExecutor(cloud, agent)
		err = exec.Teardown(rc.Context, bootstrap.Target{
			InstanceID:        rec.InstanceID,
			InstanceManaged:   rec.InstanceManaged,
			SoftwareInstalled: rec.SoftwareInstalled,
		})
		if err != nil {
			return err
		}
		if err := store.Delete(rc, rc.Lock); err != nil {
			return errors.Join(errors.New("environment torn down but state record remains"), err)
		}
		rc.Observer.Printf("state record for %s deleted", s.cfg.Environment)
		return nil
	}
}
