package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/provisioning"
	"github.com/imamik/k3ssm/internal/statelock"
)

// LeaseResolver issues credential leases.
type LeaseResolver interface {
	Resolve(ctx context.Context, ec credentials.ExecContext) (*credentials.Lease, error)
}

// StateLocker scopes a function to the state lock.
type StateLocker interface {
	WithLock(ctx context.Context, id, info string, fn func(ctx context.Context, lock *statelock.Lock) error) error
}

// LockerFactory builds the state locker for a lease.
type LockerFactory func(ctx context.Context, lease *credentials.Lease, rec *metrics.Recorder) (StateLocker, error)

// RunContext is what a stage body sees.
type RunContext struct {
	*provisioning.Context
	Spec   StageSpec
	Branch string
	// Lease is nil for offline stages.
	Lease *credentials.Lease
	// Lock is set for locked stages.
	Lock *statelock.Lock
}

// Body is the stage-specific work.
type Body func(rc *RunContext) error

// RunInput describes one stage run.
type RunInput struct {
	Exec credentials.ExecContext
	// Approved is the --approve flag.
	Approved bool
	// LockID keys the state lock of locked stages.
	LockID string
	// MetricsDir receives metrics.prom; empty skips the file.
	MetricsDir string
	// Observer replaces the log observer, for the apply view.
	Observer provisioning.Observer
	Body     Body
}

// Driver runs stages.
type Driver struct {
	broker    LeaseResolver
	approver  Approver
	newLocker LockerFactory
	log       logr.Logger
	getenv    func(string) string
	now       func() time.Time
	timeouts  *config.Timeouts
}

// Option configures a Driver.
type Option func(*Driver)

// WithApprover sets the interactive approver.
func WithApprover(a Approver) Option {
	return func(d *Driver) { d.approver = a }
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(d *Driver) { d.log = log }
}

// WithEnv replaces os.Getenv.
func WithEnv(getenv func(string) string) Option {
	return func(d *Driver) { d.getenv = getenv }
}

// WithTimeouts replaces the timeouts read from the environment.
func WithTimeouts(t *config.Timeouts) Option {
	return func(d *Driver) { d.timeouts = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

// NewDriver creates a driver.
func NewDriver(broker LeaseResolver, newLocker LockerFactory, opts ...Option) *Driver {
	d := &Driver{
		broker:    broker,
		newLocker: newLocker,
		log:       logr.Discard(),
		getenv:    os.Getenv,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes stage with in. Every stage except validate first resolves
// a lease, then checks scope and approval before any stage work starts.
func (d *Driver) Run(ctx context.Context, stage Stage, in RunInput) error {
	spec, err := Lookup(stage)
	if err != nil {
		return err
	}
	if in.Body == nil {
		return fmt.Errorf("stage %s has no body", stage)
	}

	rec := metrics.New()
	pctx := provisioning.NewContext(ctx, string(stage), d.log, rec)
	if d.timeouts != nil {
		pctx.Timeouts = d.timeouts
	}
	if in.Observer != nil {
		pctx = pctx.WithObserver(in.Observer)
	}
	pctx.Observer = pctx.Observer.WithFields(map[string]string{"branch": in.Exec.Branch})
	rc := &RunContext{Context: pctx, Spec: spec, Branch: in.Exec.Branch}

	start := d.now()
	provisioning.LogStageStart(pctx.Observer, string(stage))
	err = d.run(rc, in)
	duration := d.now().Sub(start)

	if err != nil {
		provisioning.LogStageFailed(pctx.Observer, string(stage), err)
	} else {
		provisioning.LogStageComplete(pctx.Observer, string(stage), duration)
	}
	rec.StageRun(string(stage), stageResult(err), duration)

	if in.MetricsDir != "" {
		if werr := rec.WriteTextfile(in.MetricsDir); werr != nil {
			d.log.Error(werr, "failed to write metrics", "dir", in.MetricsDir)
		}
	}
	return err
}

func (d *Driver) run(rc *RunContext, in RunInput) error {
	spec := rc.Spec

	if !spec.Offline {
		if d.broker == nil {
			return errors.New("no credential broker configured")
		}
		lease, err := d.broker.Resolve(rc, in.Exec)
		if err != nil {
			return err
		}
		rc.Lease = lease
		rc.Observer.Printf("credentials: %s", lease)

		if !lease.Scope.Allows(spec.Scope) {
			return fmt.Errorf("%w: stage %s needs %s, lease for branch %q has %s",
				ErrScopeDenied, spec.Name, spec.Scope, in.Exec.Branch, lease.Scope)
		}
	}

	if err := d.checkApproval(rc, spec, in); err != nil {
		return err
	}

	if !spec.Locked {
		return in.Body(rc)
	}
	if in.LockID == "" {
		return fmt.Errorf("stage %s needs a state lock id", spec.Name)
	}
	if d.newLocker == nil {
		return errors.New("no state locker configured")
	}
	locker, err := d.newLocker(rc, rc.Lease, rc.Metrics)
	if err != nil {
		return err
	}
	info := fmt.Sprintf("%s on %s", spec.Name, in.Exec.Branch)
	return locker.WithLock(rc, in.LockID, info, func(ctx context.Context, lock *statelock.Lock) error {
		locked := *rc
		locked.Context = rc.Context.WithContext(ctx)
		locked.Lock = lock
		return in.Body(&locked)
	})
}

func (d *Driver) checkApproval(rc *RunContext, spec StageSpec, in RunInput) error {
	if !spec.Gated(in.Exec.Branch) {
		return nil
	}
	if in.Approved || d.getenv(EnvApproved) == "true" {
		rc.Observer.Printf("stage %s approved", spec.Name)
		return nil
	}
	if d.approver != nil {
		ok, err := d.approver.Approve(rc, spec.Name, in.Exec.Branch)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: run %s with --approve or %s=true", ErrApprovalRequired, spec.Name, EnvApproved)
}

func stageResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, statelock.ErrLockContention):
		return metrics.ResultContended
	default:
		return metrics.ResultFailure
	}
}
