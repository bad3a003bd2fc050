package bootstrap

import (
	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/provisioning"
)

// Target is what destroy knows about an environment, taken from the state
// record written at apply time.
type Target struct {
	InstanceID        string
	InstanceManaged   bool
	SoftwareInstalled bool
}

// Teardown uninstalls K3s when it was installed by k3ssm, then terminates
// the instance when k3ssm created it. A failing uninstall is logged and
// does not stop the termination. Instances k3ssm did not create are never
// terminated.
func (e *Executor) Teardown(ctx *provisioning.Context, t Target) error {
	if t.InstanceID == "" {
		ctx.Observer.Printf("no instance recorded, nothing to tear down")
		return nil
	}

	obs, err := e.cloud.Describe(ctx, t.InstanceID)
	if err != nil {
		return &ExecError{Kind: TerminateFailed, ActionIndex: -1, LastObserved: planner.ObservedState{InstanceID: t.InstanceID}, Err: err}
	}
	switch obs.Status {
	case planner.StatusNotFound, planner.StatusTerminated:
		ctx.Observer.Printf("instance %s is already gone (%s)", t.InstanceID, obs.Status)
		return nil
	}

	if t.SoftwareInstalled && obs.Status == planner.StatusRunning {
		e.uninstall(ctx, t.InstanceID)
	}

	if !t.InstanceManaged {
		ctx.Observer.Printf("instance %s was not created by k3ssm, leaving it in place", t.InstanceID)
		return nil
	}

	provisioning.LogResourceDeleting(ctx.Observer, ctx.Stage, "instance", t.InstanceID)
	if err := e.cloud.Terminate(ctx, t.InstanceID); err != nil {
		return &ExecError{Kind: TerminateFailed, ActionIndex: -1, LastObserved: obs, Err: err}
	}
	if err := e.cloud.WaitTerminated(ctx, t.InstanceID, ctx.Timeouts.Terminate); err != nil {
		return &ExecError{Kind: TerminateFailed, ActionIndex: -1, LastObserved: obs, Err: err}
	}
	provisioning.LogResourceDeleted(ctx.Observer, ctx.Stage, "instance", t.InstanceID)
	return nil
}

func (e *Executor) uninstall(ctx *provisioning.Context, instanceID string) {
	if err := e.agent.WaitOnline(ctx, instanceID, ctx.Timeouts.AgentOnline); err != nil {
		ctx.Observer.Printf("skipping k3s uninstall on %s: %v", instanceID, err)
		return
	}
	if _, err := e.agent.RunCommand(ctx, instanceID, uninstallScript()); err != nil {
		ctx.Observer.Printf("k3s uninstall on %s failed, continuing: %v", instanceID, err)
		return
	}
	ctx.Observer.Printf("k3s uninstalled from %s", instanceID)
}
