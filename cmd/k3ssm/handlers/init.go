package handlers

import (
	"context"
	"fmt"

	"github.com/imamik/k3ssm/internal/pipeline"
)

// Init prepares the state backend: the versioned, private state bucket and
// the lock table. It runs without the state lock, which may not exist yet.
func Init(ctx context.Context, opts Options) error {
	return runStage(ctx, pipeline.StageInit, opts, initBody)
}

func initBody(s *session) pipeline.Body {
	return func(rc *pipeline.RunContext) error {
		bucket, err := newBucketManager(rc, s.cfg, rc.Lease)
		if err != nil {
			return err
		}
		name := s.cfg.State.Bucket
		existed, err := bucket.BucketExists(rc, name)
		if err != nil {
			return err
		}
		// Settings are reapplied to an existing bucket too.
		if err := bucket.EnsureBucket(rc, name); err != nil {
			return err
		}
		if existed {
			fmt.Fprintf(stdout, "state bucket %s already exists, versioning and public access block verified\n", name)
		} else {
			fmt.Fprintf(stdout, "state bucket %s created\n", name)
		}

		locker, err := newLocker(rc, s.cfg, s.timeouts, rc.Lease, rc.Metrics, s.log)
		if err != nil {
			return err
		}
		if err := locker.EnsureTable(rc, tableActiveTimeout); err != nil {
			return err
		}
		rc.Observer.Printf("lock table %s ready", s.cfg.State.LockTable)
		return nil
	}
}
