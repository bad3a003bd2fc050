package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/k3ssm/internal/access"
	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/planner"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
	"github.com/imamik/k3ssm/internal/platform/ssm"
	"github.com/imamik/k3ssm/internal/provisioning"
	"github.com/imamik/k3ssm/internal/util/retry"
	"github.com/imamik/k3ssm/internal/util/tags"
)

// Executor runs action plans and teardowns for one environment.
type Executor struct {
	cloud       awsplatform.InstanceManager
	agent       ssm.Channel
	install     InstallOptions
	clientToken string
	now         func() time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithInstallOptions sets the K3s install options.
func WithInstallOptions(o InstallOptions) Option {
	return func(e *Executor) {
		e.install = o
	}
}

// WithClientToken sets the idempotency token for instance launches.
func WithClientToken(token string) Option {
	return func(e *Executor) {
		e.clientToken = token
	}
}

// WithClock replaces time.Now for lease checks.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an executor on the given cloud client and agent channel.
func NewExecutor(cloud awsplatform.InstanceManager, agent ssm.Channel, opts ...Option) *Executor {
	e := &Executor{
		cloud: cloud,
		agent: agent,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result describes what a run produced. It is returned together with any
// error so the caller can record a half-finished environment.
type Result struct {
	Instance          planner.ObservedState
	InstanceManaged   bool
	SoftwareInstalled bool
	// Artifact is nil when the plan has no ExtractAccessCredential action.
	Artifact *access.Artifact
}

// run is the mutable state of one Execute call.
type run struct {
	ctx      *provisioning.Context
	lease    *credentials.Lease
	observed planner.ObservedState
	result   *Result
	resolved map[int]planner.ObservedState
	online   map[string]bool
}

// Execute runs plan in order. observed is the state the plan was built
// from. The lease is checked before every action.
func (e *Executor) Execute(ctx *provisioning.Context, plan planner.ActionPlan, lease *credentials.Lease, observed planner.ObservedState) (*Result, error) {
	if err := planner.Validate(plan); err != nil {
		return nil, fmt.Errorf("refusing to execute invalid plan: %w", err)
	}
	if lease == nil {
		return nil, errors.New("no credential lease")
	}

	r := &run{
		ctx:      ctx,
		lease:    lease,
		observed: observed,
		result:   &Result{},
		resolved: make(map[int]planner.ObservedState, len(plan.Actions)),
		online:   make(map[string]bool),
	}

	total := len(plan.Actions)
	for i, a := range plan.Actions {
		name := a.String()
		ctx.Observer.Progress(ctx.Stage, i, total)

		if r.lease.Expired(e.now()) {
			err := e.fail(r, LeaseExpired, i, a, fmt.Errorf("credential lease expired at %s", r.lease.Expiry.UTC().Format(time.RFC3339)))
			provisioning.LogActionFailed(ctx.Observer, ctx.Stage, i, name, err)
			return r.result, err
		}

		start := time.Now()
		provisioning.LogActionStart(ctx.Observer, ctx.Stage, i, name)

		skipped, err := e.step(r, i, a)
		d := time.Since(start)
		switch {
		case err != nil:
			ctx.Metrics.Action(string(a.Kind), metrics.ResultFailure, d)
			provisioning.LogActionFailed(ctx.Observer, ctx.Stage, i, name, err)
			return r.result, err
		case skipped:
			ctx.Metrics.Action(string(a.Kind), metrics.ResultSkipped, d)
			provisioning.LogActionSkipped(ctx.Observer, ctx.Stage, i, name, "software install skipped by configuration")
		default:
			ctx.Metrics.Action(string(a.Kind), metrics.ResultSuccess, d)
			provisioning.LogActionComplete(ctx.Observer, ctx.Stage, i, name, d)
		}
	}
	ctx.Observer.Progress(ctx.Stage, total, total)
	return r.result, nil
}

func (e *Executor) step(r *run, i int, a planner.Action) (skipped bool, err error) {
	switch a.Kind {
	case planner.ActionCreateInstance:
		return false, e.createInstance(r, i, a)
	case planner.ActionReuseInstance:
		return false, e.reuseInstance(r, i, a)
	case planner.ActionInstallSoftware:
		return false, e.installSoftware(r, i, a)
	case planner.ActionSkipSoftware:
		return true, nil
	case planner.ActionExtractAccessCredential:
		return false, e.extractAccess(r, i, a)
	default:
		return false, fmt.Errorf("unknown action kind %q", a.Kind)
	}
}

func (e *Executor) createInstance(r *run, i int, a planner.Action) error {
	ctx := r.ctx
	spec := a.Spec.Clone()

	provisioning.LogResourceCreating(ctx.Observer, ctx.Stage, "instance", spec.Name)
	id, err := e.cloud.Launch(ctx, spec, e.clientToken)
	if err != nil {
		return e.fail(r, LaunchFailed, i, a, err)
	}
	r.result.Instance = planner.ObservedState{InstanceID: id, Status: planner.StatusPending}
	r.result.InstanceManaged = true

	poll := retry.PollConfig{Interval: ctx.Timeouts.PollInterval, Timeout: ctx.Timeouts.Launch}
	err = retry.Poll(ctx, poll, func(pctx context.Context) (bool, error) {
		obs, err := e.cloud.Describe(pctx, id)
		if err != nil {
			return false, err
		}
		if obs.Status != planner.StatusNotFound {
			r.result.Instance = obs
		}
		switch obs.Status {
		case planner.StatusRunning:
			return true, nil
		case planner.StatusTerminated, planner.StatusStopped:
			return false, retry.Fatal(fmt.Errorf("instance %s entered %s while launching", id, obs.Status))
		}
		return false, nil
	})
	if err != nil {
		return e.fail(r, pollKind(ctx, err, LaunchTimeout, LaunchFailed), i, a, err)
	}

	r.resolved[i] = r.result.Instance
	provisioning.LogResourceCreated(ctx.Observer, ctx.Stage, "instance", spec.Name, id)
	return nil
}

// pollKind classifies a failed retry.Poll. A cancelled run is Interrupted
// whatever the poll returned.
func pollKind(ctx context.Context, err error, exhausted, other ExecErrorKind) ExecErrorKind {
	switch {
	case ctx.Err() != nil:
		return Interrupted
	case errors.Is(err, retry.ErrTimeout), errors.Is(err, retry.ErrExhausted):
		return exhausted
	default:
		return other
	}
}

func (e *Executor) reuseInstance(r *run, i int, a planner.Action) error {
	if !r.observed.Running() || r.observed.InstanceID != a.Target.InstanceID {
		obs := r.observed
		return &planner.PlanError{
			Kind:     planner.ContradictoryState,
			Message:  fmt.Sprintf("plan reuses %s but the observed instance is %q (%s)", a.Target.InstanceID, obs.InstanceID, obs.Status),
			Observed: &obs,
		}
	}
	r.result.Instance = r.observed
	r.resolved[i] = r.observed
	provisioning.LogResourceExists(r.ctx.Observer, r.ctx.Stage, "instance", "", r.observed.InstanceID)
	return nil
}

func (e *Executor) installSoftware(r *run, i int, a planner.Action) error {
	ctx := r.ctx
	inst, err := e.target(r, i, a)
	if err != nil {
		return err
	}
	if err := e.ensureOnline(r, i, a, inst); err != nil {
		return err
	}

	if _, err := e.agent.RunCommand(ctx, inst.InstanceID, installScript(inst.PrivateAddress, e.install)); err != nil {
		return e.fail(r, RemoteCommandFailed, i, a, fmt.Errorf("k3s install: %w", err))
	}

	poll := retry.PollConfig{Interval: ctx.Timeouts.ReadyInterval, MaxAttempts: ctx.Timeouts.ReadyAttempts}
	err = retry.Poll(ctx, poll, func(pctx context.Context) (bool, error) {
		out, err := e.agent.RunCommand(pctx, inst.InstanceID, readyScript())
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(out) == readyOutput, nil
	})
	if err != nil {
		return e.fail(r, pollKind(ctx, err, SoftwareNotReady, RemoteCommandFailed), i, a, err)
	}

	if _, err := e.agent.RunCommand(ctx, inst.InstanceID, deployerScript()); err != nil {
		return e.fail(r, RemoteCommandFailed, i, a, fmt.Errorf("deployer account: %w", err))
	}
	r.result.SoftwareInstalled = true

	if err := e.cloud.Tag(ctx, inst.InstanceID, map[string]string{tags.KeySoftware: tags.SoftwareK3s}); err != nil {
		ctx.Observer.Printf("could not tag %s as installed: %v", inst.InstanceID, err)
	}
	return nil
}

func (e *Executor) extractAccess(r *run, i int, a planner.Action) error {
	ctx := r.ctx
	inst, err := e.target(r, i, a)
	if err != nil {
		return err
	}
	if err := e.ensureOnline(r, i, a, inst); err != nil {
		return err
	}

	out, err := e.agent.RunCommand(ctx, inst.InstanceID, extractScript())
	if err != nil {
		kind := RemoteCommandFailed
		if errors.Is(err, ssm.ErrCommandFailed) {
			// The agent ran the script; the host could not produce the artifact.
			kind = ArtifactExtractionFailed
		}
		return e.fail(r, kind, i, a, fmt.Errorf("read kubeconfig: %w", err))
	}
	kubeconfig, token := splitExtract(out)
	art, err := access.Parse(kubeconfig, token)
	if err != nil {
		return e.fail(r, ArtifactExtractionFailed, i, a, err)
	}
	if inst.PrivateAddress == "" {
		return e.fail(r, ArtifactExtractionFailed, i, a, fmt.Errorf("instance %s has no private address", inst.InstanceID))
	}
	art.RewriteLoopback(inst.PrivateAddress)

	r.result.Artifact = art
	ctx.Observer.Printf("cluster access extracted: %s", art)
	return nil
}

// target resolves the instance an install or extract action runs on. It
// must be a concrete running instance produced by an earlier action.
func (e *Executor) target(r *run, i int, a planner.Action) (planner.ObservedState, error) {
	if a.Target == nil {
		return planner.ObservedState{}, e.fail(r, RemoteCommandFailed, i, a, errors.New("action has no target"))
	}
	if a.Target.IsForward() {
		inst, ok := r.resolved[a.Target.FromAction]
		if !ok || a.Target.FromAction >= i {
			return planner.ObservedState{}, e.fail(r, RemoteCommandFailed, i, a, fmt.Errorf("action %d has not produced an instance", a.Target.FromAction))
		}
		return inst, nil
	}
	for j, inst := range r.resolved {
		if j < i && inst.InstanceID == a.Target.InstanceID && inst.Running() {
			return inst, nil
		}
	}
	return planner.ObservedState{}, e.fail(r, RemoteCommandFailed, i, a, fmt.Errorf("instance %s was not resolved by an earlier action", a.Target.InstanceID))
}

func (e *Executor) ensureOnline(r *run, i int, a planner.Action, inst planner.ObservedState) error {
	if r.online[inst.InstanceID] {
		return nil
	}
	if err := e.agent.WaitOnline(r.ctx, inst.InstanceID, r.ctx.Timeouts.AgentOnline); err != nil {
		return e.fail(r, RemoteCommandFailed, i, a, err)
	}
	r.online[inst.InstanceID] = true
	return nil
}

func (e *Executor) fail(r *run, kind ExecErrorKind, i int, a planner.Action, err error) error {
	last := r.result.Instance
	if last.Status == "" {
		last = r.observed
	}
	return &ExecError{Kind: kind, ActionIndex: i, Action: a, LastObserved: last, Err: err}
}
