package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/k3ssm/internal/planner"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
)

// teardownCloud records terminate calls into the agent's call log so the
// relative order of uninstall and terminate can be checked.
func teardownCloud(agent *fakeAgent, status planner.InstanceStatus) *awsplatform.MockClient {
	return &awsplatform.MockClient{
		DescribeFunc: func(_ context.Context, id string) (planner.ObservedState, error) {
			return planner.ObservedState{InstanceID: id, Status: status}, nil
		},
		TerminateFunc: func(_ context.Context, id string) error {
			agent.record("terminate " + id)
			return nil
		},
		WaitTerminatedFunc: func(_ context.Context, id string, _ time.Duration) error {
			agent.record("terminated " + id)
			return nil
		},
	}
}

func TestTeardown_ManagedAndInstalled(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{}
	e := NewExecutor(teardownCloud(agent, planner.StatusRunning), agent.channel())

	err := e.Teardown(ctx, Target{InstanceID: "i-1", InstanceManaged: true, SoftwareInstalled: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"online i-1", "uninstall", "terminate i-1", "terminated i-1"}, agent.Calls())
}

func TestTeardown_UninstallFailureIsNotFatal(t *testing.T) {
	ctx, obs := testContext()
	agent := &fakeAgent{uninstall: func() (string, error) { return "", errors.New("script exited 1") }}
	e := NewExecutor(teardownCloud(agent, planner.StatusRunning), agent.channel())

	err := e.Teardown(ctx, Target{InstanceID: "i-1", InstanceManaged: true, SoftwareInstalled: true})
	require.NoError(t, err)
	assert.Contains(t, agent.Calls(), "terminate i-1")

	found := false
	for _, m := range obs.Messages() {
		if strings.Contains(m, "uninstall on i-1 failed") {
			found = true
		}
	}
	assert.True(t, found, "uninstall failure is logged")
}

func TestTeardown_AgentOfflineSkipsUninstall(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{online: errors.New("ConnectionLost")}
	e := NewExecutor(teardownCloud(agent, planner.StatusRunning), agent.channel())

	require.NoError(t, e.Teardown(ctx, Target{InstanceID: "i-1", InstanceManaged: true, SoftwareInstalled: true}))
	assert.NotContains(t, agent.Calls(), "uninstall")
	assert.Contains(t, agent.Calls(), "terminate i-1")
}

func TestTeardown_UnmanagedInstanceIsKept(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{}
	e := NewExecutor(teardownCloud(agent, planner.StatusRunning), agent.channel())

	require.NoError(t, e.Teardown(ctx, Target{InstanceID: "i-shared", InstanceManaged: false, SoftwareInstalled: true}))
	assert.Equal(t, []string{"online i-shared", "uninstall"}, agent.Calls())
}

func TestTeardown_NotInstalledSkipsUninstall(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{}
	e := NewExecutor(teardownCloud(agent, planner.StatusRunning), agent.channel())

	require.NoError(t, e.Teardown(ctx, Target{InstanceID: "i-1", InstanceManaged: true}))
	assert.Equal(t, []string{"terminate i-1", "terminated i-1"}, agent.Calls())
}

func TestTeardown_StoppedInstanceSkipsUninstall(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{}
	e := NewExecutor(teardownCloud(agent, planner.StatusStopped), agent.channel())

	require.NoError(t, e.Teardown(ctx, Target{InstanceID: "i-1", InstanceManaged: true, SoftwareInstalled: true}))
	assert.Equal(t, []string{"terminate i-1", "terminated i-1"}, agent.Calls())
}

func TestTeardown_AlreadyGone(t *testing.T) {
	for _, status := range []planner.InstanceStatus{planner.StatusNotFound, planner.StatusTerminated} {
		t.Run(string(status), func(t *testing.T) {
			ctx, _ := testContext()
			agent := &fakeAgent{}
			e := NewExecutor(teardownCloud(agent, status), agent.channel())

			require.NoError(t, e.Teardown(ctx, Target{InstanceID: "i-1", InstanceManaged: true, SoftwareInstalled: true}))
			assert.Empty(t, agent.Calls())
		})
	}
}

func TestTeardown_NothingRecorded(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{}
	e := NewExecutor(teardownCloud(agent, planner.StatusRunning), agent.channel())

	require.NoError(t, e.Teardown(ctx, Target{}))
	assert.Empty(t, agent.Calls())
}

func TestTeardown_TerminateWaitFails(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{}
	cloud := teardownCloud(agent, planner.StatusRunning)
	cloud.WaitTerminatedFunc = func(context.Context, string, time.Duration) error {
		return errors.New("exceeded max wait time")
	}
	e := NewExecutor(cloud, agent.channel())

	err := e.Teardown(ctx, Target{InstanceID: "i-1", InstanceManaged: true})
	require.Error(t, err)
	assert.True(t, IsKind(err, TerminateFailed))
	assert.Contains(t, err.Error(), "teardown")
}
