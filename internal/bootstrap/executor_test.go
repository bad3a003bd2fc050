package bootstrap

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/planner"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
	"github.com/imamik/k3ssm/internal/platform/ssm"
	"github.com/imamik/k3ssm/internal/provisioning"
	"github.com/imamik/k3ssm/internal/util/tags"
)

const testAddress = "10.0.1.23"

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

var remoteKubeconfig = fmt.Sprintf(`apiVersion: v1
clusters:
- cluster:
    certificate-authority-data: %s
    server: https://127.0.0.1:6443
  name: default
contexts:
- context:
    cluster: default
    user: default
  name: default
current-context: default
kind: Config
users:
- name: default
  user:
    client-certificate-data: %s
    client-key-data: %s
`, b64("ca"), b64("cert"), b64("key"))

func testContext() (*provisioning.Context, *provisioning.RecordingObserver) {
	obs := provisioning.NewRecordingObserver()
	return &provisioning.Context{
		Context:  context.Background(),
		Stage:    "apply",
		Observer: obs,
		Timeouts: &config.Timeouts{
			Launch:        time.Second,
			PollInterval:  time.Millisecond,
			AgentOnline:   time.Second,
			ReadyAttempts: 3,
			ReadyInterval: time.Millisecond,
			Command:       time.Second,
			Terminate:     time.Second,
		},
		Metrics: metrics.New(),
	}, obs
}

func testLease() *credentials.Lease {
	return &credentials.Lease{
		AccessKeyID: "ASIAEXAMPLE",
		Expiry:      time.Now().Add(time.Hour),
		Scope:       credentials.ScopeFull,
		Source:      credentials.SourceOIDC,
	}
}

func createDesired() planner.DesiredState {
	return planner.DesiredState{
		InstanceSpec: planner.InstanceSpec{Name: "k3s-dev", Image: "ami-1", Size: "t3.large"},
	}
}

func reuseDesired(skipInstall bool) planner.DesiredState {
	return planner.DesiredState{
		SkipInstanceCreation: true,
		SkipSoftwareInstall:  skipInstall,
		ExistingSelector:     &planner.InstanceSelector{Tags: map[string]string{"Name": "shared"}},
	}
}

func running(id string) planner.ObservedState {
	return planner.ObservedState{InstanceID: id, Status: planner.StatusRunning, PrivateAddress: testAddress}
}

func mustPlan(t *testing.T, d planner.DesiredState, o planner.ObservedState) planner.ActionPlan {
	t.Helper()
	p, err := planner.Plan(d, o)
	require.NoError(t, err)
	return p
}

// fakeAgent answers remote scripts by content and records them in order.
type fakeAgent struct {
	mu    sync.Mutex
	calls []string

	install, ready, deployer, extract, uninstall func() (string, error)
	online                                       error
}

func (a *fakeAgent) record(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, s)
}

func (a *fakeAgent) channel() *ssm.MockClient {
	answer := func(fn func() (string, error), def string) (string, error) {
		if fn != nil {
			return fn()
		}
		return def, nil
	}
	return &ssm.MockClient{
		WaitOnlineFunc: func(_ context.Context, id string, _ time.Duration) error {
			a.record("online " + id)
			return a.online
		},
		RunCommandFunc: func(_ context.Context, id string, commands []string) (string, error) {
			script := strings.Join(commands, "\n")
			switch {
			case strings.Contains(script, "get.k3s.io"):
				a.record("install")
				return answer(a.install, "")
			case strings.Contains(script, "readyz"):
				a.record("ready")
				return answer(a.ready, "ok\n")
			case strings.Contains(script, "create token"):
				a.record("deployer")
				return answer(a.deployer, "")
			case strings.Contains(script, KubeconfigPath):
				a.record("extract")
				return answer(a.extract, remoteKubeconfig+"\n"+tokenMarker+"\nsa-token\n")
			case strings.Contains(script, UninstallPath):
				a.record("uninstall")
				return answer(a.uninstall, "")
			}
			return "", fmt.Errorf("unexpected script %q", script)
		},
	}
}

func (a *fakeAgent) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func TestExecute_CreateInstallExtract(t *testing.T) {
	ctx, obs := testContext()
	agent := &fakeAgent{}
	describes := 0
	var launchToken string
	var tagged map[string]string
	cloud := &awsplatform.MockClient{
		LaunchFunc: func(_ context.Context, spec planner.InstanceSpec, token string) (string, error) {
			launchToken = token
			assert.Equal(t, "k3s-dev", spec.Name)
			return "i-new", nil
		},
		DescribeFunc: func(_ context.Context, id string) (planner.ObservedState, error) {
			describes++
			if describes < 3 {
				return planner.ObservedState{InstanceID: id, Status: planner.StatusPending}, nil
			}
			return running(id), nil
		},
		TagFunc: func(_ context.Context, _ string, t map[string]string) error {
			tagged = t
			return nil
		},
	}

	e := NewExecutor(cloud, agent.channel(), WithClientToken("k3ssm-dev-4"))
	res, err := e.Execute(ctx, mustPlan(t, createDesired(), planner.NotFound()), testLease(), planner.NotFound())
	require.NoError(t, err)

	assert.Equal(t, "k3ssm-dev-4", launchToken)
	assert.Equal(t, 3, describes)
	assert.Equal(t, running("i-new"), res.Instance)
	assert.True(t, res.InstanceManaged)
	assert.True(t, res.SoftwareInstalled)
	assert.Equal(t, map[string]string{tags.KeySoftware: tags.SoftwareK3s}, tagged)

	assert.Equal(t, []string{"online i-new", "install", "ready", "deployer", "extract"}, agent.Calls())

	require.NotNil(t, res.Artifact)
	assert.Equal(t, "https://"+testAddress+":6443", res.Artifact.Endpoint.String())
	assert.Equal(t, []byte("sa-token"), res.Artifact.AuthToken)

	for _, m := range obs.Messages() {
		assert.NotContains(t, m, "sa-token")
	}
	assert.Contains(t, obs.Types(), provisioning.EventResourceCreated)
}

func TestExecute_LaunchTimeout(t *testing.T) {
	ctx, _ := testContext()
	ctx.Timeouts.Launch = 20 * time.Millisecond
	agent := &fakeAgent{}
	cloud := &awsplatform.MockClient{
		DescribeFunc: func(_ context.Context, id string) (planner.ObservedState, error) {
			return planner.ObservedState{InstanceID: id, Status: planner.StatusPending}, nil
		},
	}

	res, err := NewExecutor(cloud, agent.channel()).Execute(ctx, mustPlan(t, createDesired(), planner.NotFound()), testLease(), planner.NotFound())
	require.Error(t, err)
	assert.True(t, IsKind(err, LaunchTimeout))

	var ee *ExecError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, 0, ee.ActionIndex)
	assert.Equal(t, planner.ActionCreateInstance, ee.Action.Kind)
	assert.Equal(t, "i-mock", ee.LastObserved.InstanceID)
	assert.Equal(t, planner.StatusPending, ee.LastObserved.Status)
	assert.Contains(t, err.Error(), "action 0")

	assert.Empty(t, agent.Calls(), "no install after a failed launch")
	assert.True(t, res.InstanceManaged, "the launched instance is still reported")
}

func TestExecute_InstanceDiesWhileLaunching(t *testing.T) {
	ctx, _ := testContext()
	cloud := &awsplatform.MockClient{
		DescribeFunc: func(_ context.Context, id string) (planner.ObservedState, error) {
			return planner.ObservedState{InstanceID: id, Status: planner.StatusTerminated}, nil
		},
	}

	_, err := NewExecutor(cloud, (&fakeAgent{}).channel()).Execute(ctx, mustPlan(t, createDesired(), planner.NotFound()), testLease(), planner.NotFound())
	require.Error(t, err)
	assert.True(t, IsKind(err, LaunchFailed))
	assert.False(t, IsKind(err, LaunchTimeout))
	assert.Contains(t, err.Error(), "Terminated")
}

func TestExecute_CancelledWhileLaunching(t *testing.T) {
	ctx, _ := testContext()
	cctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx.Context = cctx
	cloud := &awsplatform.MockClient{
		DescribeFunc: func(_ context.Context, id string) (planner.ObservedState, error) {
			cancel()
			return planner.ObservedState{InstanceID: id, Status: planner.StatusPending}, nil
		},
	}

	_, err := NewExecutor(cloud, (&fakeAgent{}).channel()).Execute(ctx, mustPlan(t, createDesired(), planner.NotFound()), testLease(), planner.NotFound())
	require.Error(t, err)
	assert.True(t, IsKind(err, Interrupted))
	assert.False(t, IsKind(err, LaunchTimeout))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_CancelledWhileWaitingForReady(t *testing.T) {
	ctx, _ := testContext()
	cctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx.Context = cctx
	agent := &fakeAgent{ready: func() (string, error) {
		cancel()
		return "[-]etcd failed\n", nil
	}}
	observed := running("i-shared")

	_, err := NewExecutor(&awsplatform.MockClient{}, agent.channel()).Execute(ctx, mustPlan(t, reuseDesired(false), observed), testLease(), observed)
	require.Error(t, err)
	assert.True(t, IsKind(err, Interrupted))
	assert.False(t, IsKind(err, SoftwareNotReady))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecute_LaunchFailed(t *testing.T) {
	ctx, _ := testContext()
	cloud := &awsplatform.MockClient{
		LaunchFunc: func(context.Context, planner.InstanceSpec, string) (string, error) {
			return "", errors.New("UnauthorizedOperation")
		},
	}

	res, err := NewExecutor(cloud, (&fakeAgent{}).channel()).Execute(ctx, mustPlan(t, createDesired(), planner.NotFound()), testLease(), planner.NotFound())
	assert.True(t, IsKind(err, LaunchFailed))
	assert.False(t, res.InstanceManaged)
}

func TestExecute_ReuseWithoutInstall(t *testing.T) {
	ctx, obs := testContext()
	agent := &fakeAgent{}
	cloud := &awsplatform.MockClient{
		LaunchFunc: func(context.Context, planner.InstanceSpec, string) (string, error) {
			t.Fatal("reuse must not launch")
			return "", nil
		},
	}
	observed := running("i-shared")

	res, err := NewExecutor(cloud, agent.channel()).Execute(ctx, mustPlan(t, reuseDesired(true), observed), testLease(), observed)
	require.NoError(t, err)

	assert.Equal(t, []string{"online i-shared", "extract"}, agent.Calls())
	assert.False(t, res.InstanceManaged)
	assert.False(t, res.SoftwareInstalled)
	require.NotNil(t, res.Artifact)
	assert.Equal(t, testAddress, res.Artifact.Endpoint.Hostname())
	assert.Contains(t, obs.Types(), provisioning.EventActionSkipped)
}

func TestExecute_CreateWithoutInstallHasNoArtifact(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{}
	d := createDesired()
	d.SkipSoftwareInstall = true

	res, err := NewExecutor(&awsplatform.MockClient{}, agent.channel()).Execute(ctx, mustPlan(t, d, planner.NotFound()), testLease(), planner.NotFound())
	require.NoError(t, err)
	assert.Nil(t, res.Artifact)
	assert.Empty(t, agent.Calls())
}

func TestExecute_SoftwareNotReady(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{ready: func() (string, error) { return "[-]etcd failed\n", nil }}
	observed := running("i-shared")

	_, err := NewExecutor(&awsplatform.MockClient{}, agent.channel()).Execute(ctx, mustPlan(t, reuseDesired(false), observed), testLease(), observed)
	require.Error(t, err)
	assert.True(t, IsKind(err, SoftwareNotReady))

	ready := 0
	for _, c := range agent.Calls() {
		if c == "ready" {
			ready++
		}
	}
	assert.Equal(t, 3, ready)
	assert.NotContains(t, agent.Calls(), "extract")
}

func TestExecute_InstallCommandFails(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{install: func() (string, error) { return "", ssm.ErrCommandFailed }}
	observed := running("i-shared")

	res, err := NewExecutor(&awsplatform.MockClient{}, agent.channel()).Execute(ctx, mustPlan(t, reuseDesired(false), observed), testLease(), observed)
	require.Error(t, err)
	assert.True(t, IsKind(err, RemoteCommandFailed))
	assert.ErrorIs(t, err, ssm.ErrCommandFailed)
	assert.Equal(t, observed, res.Instance)
	assert.False(t, res.SoftwareInstalled)
}

func TestExecute_AgentOffline(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{online: ssm.ErrAgentOffline}
	observed := running("i-shared")

	_, err := NewExecutor(&awsplatform.MockClient{}, agent.channel()).Execute(ctx, mustPlan(t, reuseDesired(false), observed), testLease(), observed)
	assert.True(t, IsKind(err, RemoteCommandFailed))
	assert.ErrorIs(t, err, ssm.ErrAgentOffline)
}

func TestExecute_ExtractionFailed(t *testing.T) {
	tests := map[string]string{
		"empty output":   "",
		"only marker":    tokenMarker + "\n",
		"not kubeconfig": "Welcome to Ubuntu 24.04 LTS\n",
	}
	for name, out := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, _ := testContext()
			agent := &fakeAgent{extract: func() (string, error) { return out, nil }}
			observed := running("i-shared")

			_, err := NewExecutor(&awsplatform.MockClient{}, agent.channel()).Execute(ctx, mustPlan(t, reuseDesired(true), observed), testLease(), observed)
			require.Error(t, err)
			assert.True(t, IsKind(err, ArtifactExtractionFailed))
			assert.Equal(t, 1, strings.Count(strings.Join(agent.Calls(), ","), "extract"), "not retried")
		})
	}
}

func TestExecute_ExtractCommandFailedOnHost(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{extract: func() (string, error) {
		return "", &ssm.CommandError{
			CommandID:  "cmd-1",
			InstanceID: "i-shared",
			Status:     "Failed",
			ExitCode:   1,
			Stderr:     "cat: " + KubeconfigPath + ": No such file or directory",
		}
	}}
	observed := running("i-shared")

	_, err := NewExecutor(&awsplatform.MockClient{}, agent.channel()).Execute(ctx, mustPlan(t, reuseDesired(true), observed), testLease(), observed)
	require.Error(t, err)
	assert.True(t, IsKind(err, ArtifactExtractionFailed))
	assert.False(t, IsKind(err, RemoteCommandFailed))
	assert.ErrorIs(t, err, ssm.ErrCommandFailed)
}

func TestExtractScript_ToleratesMissingKubeconfig(t *testing.T) {
	script := strings.Join(extractScript(), "\n")
	assert.Contains(t, script, "[ -s "+KubeconfigPath+" ]")
	assert.NotContains(t, script, "\ncat "+KubeconfigPath+"\n")
}

func TestExecute_LeaseExpired(t *testing.T) {
	ctx, _ := testContext()
	launched := false
	cloud := &awsplatform.MockClient{
		LaunchFunc: func(context.Context, planner.InstanceSpec, string) (string, error) {
			launched = true
			return "i-new", nil
		},
	}
	lease := testLease()
	lease.Expiry = time.Now().Add(-time.Minute)

	_, err := NewExecutor(cloud, (&fakeAgent{}).channel()).Execute(ctx, mustPlan(t, createDesired(), planner.NotFound()), lease, planner.NotFound())
	require.Error(t, err)
	assert.True(t, IsKind(err, LeaseExpired))
	assert.False(t, launched)
}

func TestExecute_LeaseExpiresMidRun(t *testing.T) {
	ctx, _ := testContext()
	agent := &fakeAgent{}
	lease := testLease()
	checks := 0
	clock := func() time.Time {
		checks++
		if checks > 1 {
			return lease.Expiry.Add(time.Second)
		}
		return lease.Expiry.Add(-time.Minute)
	}

	_, err := NewExecutor(&awsplatform.MockClient{}, agent.channel(), WithClock(clock)).
		Execute(ctx, mustPlan(t, createDesired(), planner.NotFound()), lease, planner.NotFound())
	require.Error(t, err)

	var ee *ExecError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, LeaseExpired, ee.Kind)
	assert.Equal(t, 1, ee.ActionIndex)
	assert.Empty(t, agent.Calls())
}

func TestExecute_RejectsInvalidPlan(t *testing.T) {
	ctx, _ := testContext()
	target := planner.ForwardTarget(0)
	plan := planner.ActionPlan{Actions: []planner.Action{
		{Kind: planner.ActionInstallSoftware, Target: &target},
	}}

	_, err := NewExecutor(&awsplatform.MockClient{}, (&fakeAgent{}).channel()).Execute(ctx, plan, testLease(), planner.NotFound())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid plan")
}

func TestExecute_ReuseOfUnobservedInstance(t *testing.T) {
	ctx, _ := testContext()
	plan := mustPlan(t, reuseDesired(true), running("i-a"))

	_, err := NewExecutor(&awsplatform.MockClient{}, (&fakeAgent{}).channel()).Execute(ctx, plan, testLease(), running("i-b"))
	require.Error(t, err)
	assert.True(t, planner.IsKind(err, planner.ContradictoryState))
}
