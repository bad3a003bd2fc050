package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/bootstrap"
	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/pipeline"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
	"github.com/imamik/k3ssm/internal/platform/ssm"
	"github.com/imamik/k3ssm/internal/statelock"
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

func testConfig(dir, environment string) *config.Config {
	return &config.Config{
		Environment: environment,
		Region:      "eu-central-1",
		Partition:   "standard",
		Instance:    config.InstanceConfig{Name: "k3s-" + environment, AMI: "ami-1", Type: "t3.large"},
		Network:     config.NetworkConfig{SubnetID: "subnet-1"},
		State: config.StateConfig{
			Bucket:    "state",
			Key:       "k3ssm/" + environment + "/state.json",
			LockTable: "locks",
		},
		Registry:  config.RegistryConfig{Type: config.RegistryNone},
		Deploy:    config.DeployConfig{Chart: "chart", Release: "app", Namespace: "app"},
		OutputDir: dir,
	}
}

func fastTimeouts() *config.Timeouts {
	return &config.Timeouts{
		Launch:         time.Second,
		PollInterval:   time.Millisecond,
		AgentOnline:    time.Second,
		ReadyAttempts:  3,
		ReadyInterval:  time.Millisecond,
		Command:        time.Second,
		LockAttempts:   1,
		LockDelay:      time.Millisecond,
		Terminate:      time.Second,
		LeaseDuration:  time.Hour,
		ClusterChecks:  time.Second,
		HelmOperations: time.Second,
	}
}

type fakeBroker struct {
	mu    sync.Mutex
	scope credentials.Scope
	err   error
	calls int
}

func (b *fakeBroker) Resolve(_ context.Context, ec credentials.ExecContext) (*credentials.Lease, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &credentials.Lease{
		AccessKeyID:     "ASIAEXAMPLE",
		SecretAccessKey: "secret-key-material",
		SessionToken:    "session-token-material",
		Expiry:          time.Now().Add(time.Hour),
		Scope:           b.scope,
		Source:          credentials.SourceOIDC,
	}, nil
}

func (b *fakeBroker) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fakeLocker struct {
	mu           sync.Mutex
	ids          []string
	err          error
	tableEnsured bool
}

func (l *fakeLocker) WithLock(ctx context.Context, id, _ string, fn func(ctx context.Context, lock *statelock.Lock) error) error {
	l.mu.Lock()
	l.ids = append(l.ids, id)
	l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	return fn(ctx, &statelock.Lock{})
}

func (l *fakeLocker) EnsureTable(context.Context, time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tableEnsured = true
	return nil
}

func (l *fakeLocker) IDs() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ids...)
}

type fakeStore struct {
	mu      sync.Mutex
	rec     *statelock.Record
	writes  int
	deleted bool
}

func (s *fakeStore) Read(context.Context) (*statelock.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rec == nil {
		return nil, nil
	}
	cp := *s.rec
	return &cp, nil
}

func (s *fakeStore) Write(_ context.Context, lock *statelock.Lock, rec *statelock.Record) error {
	if lock == nil {
		return statelock.ErrLockNotHeld
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	rec.Serial++
	cp := *rec
	s.rec = &cp
	return nil
}

func (s *fakeStore) Delete(_ context.Context, lock *statelock.Lock) error {
	if lock == nil {
		return statelock.ErrLockNotHeld
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec = nil
	s.deleted = true
	return nil
}

type fakeBucket struct {
	name      string
	exists    bool
	existsErr error
}

func (b *fakeBucket) BucketExists(context.Context, string) (bool, error) {
	return b.exists, b.existsErr
}

func (b *fakeBucket) EnsureBucket(_ context.Context, name string) error {
	b.name = name
	b.exists = true
	return nil
}

type denyApprover struct{}

func (denyApprover) Approve(context.Context, pipeline.Stage, string) (bool, error) {
	return false, nil
}

// fixture replaces every factory with fakes for one test.
type fixture struct {
	dir    string
	cfg    *config.Config
	env    map[string]string
	out    *bytes.Buffer
	broker *fakeBroker
	locker *fakeLocker
	bucket *fakeBucket
	cloud  *awsplatform.MockClient
	agent  *ssm.MockClient

	mu     sync.Mutex
	stores map[string]*fakeStore
}

func (f *fixture) store(environment string) *fakeStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.stores[environment]
	if !ok {
		s = &fakeStore{}
		f.stores[environment] = s
	}
	return s
}

func setup(t *testing.T, branch string) *fixture {
	t.Helper()
	saveAndRestoreFactories(t)

	dir := t.TempDir()
	f := &fixture{
		dir:    dir,
		cfg:    testConfig(dir, "dev"),
		env:    map[string]string{credentials.EnvCommitBranch: branch},
		out:    &bytes.Buffer{},
		broker: &fakeBroker{scope: credentials.ScopeFull},
		locker: &fakeLocker{},
		bucket: &fakeBucket{},
		cloud:  &awsplatform.MockClient{},
		agent:  &ssm.MockClient{},
		stores: map[string]*fakeStore{},
	}

	newLogger = func() (logr.Logger, func(), error) { return logr.Discard(), func() {}, nil }
	resolveConfigPath = func(p string) (string, error) {
		if p == "" {
			return config.DefaultConfigFilename, nil
		}
		return p, nil
	}
	loadConfigFile = func(string) (*config.Config, error) { return f.cfg, nil }
	loadTimeouts = fastTimeouts
	getenv = func(k string) string { return f.env[k] }
	readFile = func(string) ([]byte, error) { return nil, os.ErrNotExist }
	stdout = f.out
	newBroker = func(*config.Config, *config.Timeouts, logr.Logger) pipeline.LeaseResolver { return f.broker }
	newApprover = func() pipeline.Approver { return denyApprover{} }
	newLocker = func(context.Context, *config.Config, *config.Timeouts, *credentials.Lease, *metrics.Recorder, logr.Logger) (LockBackend, error) {
		return f.locker, nil
	}
	newStateStore = func(_ context.Context, cfg *config.Config, _ *credentials.Lease) (StateStore, error) {
		return f.store(cfg.Environment), nil
	}
	newBucketManager = func(context.Context, *config.Config, *credentials.Lease) (BucketManager, error) {
		return f.bucket, nil
	}
	newCloudClient = func(context.Context, *config.Config, *config.Timeouts, *credentials.Lease, logr.Logger) (awsplatform.CloudClient, error) {
		return f.cloud, nil
	}
	newAgentChannel = func(context.Context, *config.Config, *config.Timeouts, *credentials.Lease, *metrics.Recorder, logr.Logger) (ssm.Channel, error) {
		return f.agent, nil
	}
	isInteractive = func() bool { return false }
	return f
}

// k3sAgent answers the bootstrap scripts by content.
func k3sAgent(installErr error) *ssm.MockClient {
	return &ssm.MockClient{
		RunCommandFunc: func(_ context.Context, _ string, commands []string) (string, error) {
			script := strings.Join(commands, "\n")
			switch {
			case strings.Contains(script, "get.k3s.io"):
				return "", installErr
			case strings.Contains(script, "readyz"):
				return "ok\n", nil
			case strings.Contains(script, "create token"):
				return "", nil
			case strings.Contains(script, bootstrap.KubeconfigPath):
				return remoteKubeconfig + "\n---K3SSM-DEPLOYER-TOKEN---\nsa-token\n", nil
			case strings.Contains(script, bootstrap.UninstallPath):
				return "", nil
			}
			return "", fmt.Errorf("unexpected script %q", script)
		},
	}
}

func saveAndRestoreFactories(t *testing.T) {
	t.Helper()
	origResolveConfigPath := resolveConfigPath
	origLoadConfigFile := loadConfigFile
	origLoadTimeouts := loadTimeouts
	origGetenv := getenv
	origReadFile := readFile
	origStdout := stdout
	origNewLogger := newLogger
	origNewBroker := newBroker
	origNewApprover := newApprover
	origNewLocker := newLocker
	origNewStateStore := newStateStore
	origNewBucketManager := newBucketManager
	origNewCloudClient := newCloudClient
	origNewAgentChannel := newAgentChannel
	origNewImageBuilder := newImageBuilder
	origNewImagePusher := newImagePusher
	origNewReleaser := newReleaser
	origNewClusterChecker := newClusterChecker
	origLoadArtifact := loadArtifact
	origCheckTools := checkTools
	origIsInteractive := isInteractive
	origNewLaunchID := newLaunchID
	origRunApplyView := runApplyView

	t.Cleanup(func() {
		resolveConfigPath = origResolveConfigPath
		loadConfigFile = origLoadConfigFile
		loadTimeouts = origLoadTimeouts
		getenv = origGetenv
		readFile = origReadFile
		stdout = origStdout
		newLogger = origNewLogger
		newBroker = origNewBroker
		newApprover = origNewApprover
		newLocker = origNewLocker
		newStateStore = origNewStateStore
		newBucketManager = origNewBucketManager
		newCloudClient = origNewCloudClient
		newAgentChannel = origNewAgentChannel
		newImageBuilder = origNewImageBuilder
		newImagePusher = origNewImagePusher
		newReleaser = origNewReleaser
		newClusterChecker = origNewClusterChecker
		loadArtifact = origLoadArtifact
		checkTools = origCheckTools
		isInteractive = origIsInteractive
		newLaunchID = origNewLaunchID
		runApplyView = origRunApplyView
	})
}
