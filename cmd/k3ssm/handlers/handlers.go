// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command definitions
// in the commands package. Every handler loads the configuration, builds the
// CI execution context and hands a stage body to the pipeline driver, which
// owns credentials, approval, locking, events and exit codes.
//
// Cloud and cluster clients are created through factory variables so tests
// can replace them.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/imamik/k3ssm/internal/access"
	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/credentials"
	"github.com/imamik/k3ssm/internal/deploy"
	"github.com/imamik/k3ssm/internal/k8s"
	"github.com/imamik/k3ssm/internal/logging"
	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/pipeline"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
	"github.com/imamik/k3ssm/internal/platform/s3"
	"github.com/imamik/k3ssm/internal/platform/ssm"
	"github.com/imamik/k3ssm/internal/planner"
	"github.com/imamik/k3ssm/internal/provisioning"
	"github.com/imamik/k3ssm/internal/registry"
	"github.com/imamik/k3ssm/internal/statelock"
	"github.com/imamik/k3ssm/internal/util/prerequisites"
)

// tableActiveTimeout bounds the wait for a new lock table.
const tableActiveTimeout = 5 * time.Minute

// Options are the flags shared by every stage command.
type Options struct {
	ConfigPath string
	// Branch overrides the CI branch variables.
	Branch string
	// Approve pre-approves gated stages.
	Approve bool
}

// StateStore reads and writes the environment state record.
type StateStore interface {
	Read(ctx context.Context) (*statelock.Record, error)
	Write(ctx context.Context, lock *statelock.Lock, rec *statelock.Record) error
	Delete(ctx context.Context, lock *statelock.Lock) error
}

// LockBackend is the state lock plus its table management.
type LockBackend interface {
	pipeline.StateLocker
	EnsureTable(ctx context.Context, timeout time.Duration) error
}

// BucketManager prepares the state bucket.
type BucketManager interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	EnsureBucket(ctx context.Context, bucketName string) error
}

// ClusterChecker runs the test stage checks.
type ClusterChecker interface {
	Run(ctx *provisioning.Context, spec k8s.CheckSpec) (*k8s.Report, error)
}

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// resolveConfigPath finds the configuration file.
	resolveConfigPath = config.ResolvePath

	// loadConfigFile loads and validates a configuration file.
	loadConfigFile = config.Load

	// loadTimeouts reads timeout overrides from the environment.
	loadTimeouts = config.LoadTimeouts

	// getenv and readFile feed the CI execution context.
	getenv   = os.Getenv
	readFile = os.ReadFile

	// stdout receives plan summaries and stage results.
	stdout io.Writer = os.Stdout

	// newLogger builds the process logger.
	newLogger = func() (logr.Logger, func(), error) {
		return logging.New(logging.OptionsFromEnv(os.Getenv))
	}

	// newBroker creates the credential broker for cfg.
	newBroker = func(cfg *config.Config, t *config.Timeouts, log logr.Logger) pipeline.LeaseResolver {
		policy := credentials.NewBranchPolicy(cfg.Identity.MainRoleARN, cfg.Identity.OtherRoleARN)
		return credentials.NewSTSBroker(cfg.Region, policy, t.LeaseDuration, credentials.WithLogger(log.WithName("credentials")))
	}

	// newApprover creates the interactive approver.
	newApprover = func() pipeline.Approver {
		return pipeline.NewTerminalApprover()
	}

	// newLocker creates the DynamoDB state lock.
	newLocker = func(ctx context.Context, cfg *config.Config, t *config.Timeouts, lease *credentials.Lease, rec *metrics.Recorder, log logr.Logger) (LockBackend, error) {
		awsCfg, err := awsplatform.LoadConfig(ctx, cfg.Region, lease.AWSCredentials())
		if err != nil {
			return nil, err
		}
		return statelock.NewLocker(dynamodb.NewFromConfig(awsCfg), cfg.State.LockTable, t.LockAttempts, t.LockDelay,
			statelock.WithMetrics(rec), statelock.WithLogger(log.WithName("statelock"))), nil
	}

	// newStateStore creates the S3 backed state store.
	newStateStore = func(ctx context.Context, cfg *config.Config, lease *credentials.Lease) (StateStore, error) {
		blob, err := s3.NewClient(ctx, cfg.Region, lease.AWSCredentials())
		if err != nil {
			return nil, err
		}
		return statelock.NewStore(blob, cfg.State.Bucket, cfg.State.Key, cfg.LockID()), nil
	}

	// newBucketManager creates the S3 client used by init.
	newBucketManager = func(ctx context.Context, cfg *config.Config, lease *credentials.Lease) (BucketManager, error) {
		return s3.NewClient(ctx, cfg.Region, lease.AWSCredentials())
	}

	// newCloudClient creates the EC2/IAM/ECR client.
	newCloudClient = func(ctx context.Context, cfg *config.Config, t *config.Timeouts, lease *credentials.Lease, log logr.Logger) (awsplatform.CloudClient, error) {
		awsCfg, err := awsplatform.LoadConfig(ctx, cfg.Region, lease.AWSCredentials())
		if err != nil {
			return nil, err
		}
		return awsplatform.NewRealClient(awsCfg,
			awsplatform.WithPartition(planner.Partition(cfg.Partition)),
			awsplatform.WithPollInterval(t.PollInterval),
			awsplatform.WithLogger(log.WithName("aws")),
		), nil
	}

	// newAgentChannel creates the SSM agent channel.
	newAgentChannel = func(ctx context.Context, cfg *config.Config, t *config.Timeouts, lease *credentials.Lease, rec *metrics.Recorder, log logr.Logger) (ssm.Channel, error) {
		awsCfg, err := awsplatform.LoadConfig(ctx, cfg.Region, lease.AWSCredentials())
		if err != nil {
			return nil, err
		}
		return ssm.NewClient(awsCfg,
			ssm.WithPollInterval(t.PollInterval),
			ssm.WithCommandTimeout(t.Command),
			ssm.WithMetrics(rec),
			ssm.WithLogger(log.WithName("ssm")),
		), nil
	}

	// newImageBuilder and newImagePusher back the build stage.
	newImageBuilder = func() registry.Builder { return registry.NewDockerBuilder() }
	newImagePusher  = func() registry.Pusher { return &registry.RemotePusher{} }

	// newReleaser creates the Helm client for the deploy stage.
	newReleaser = func(a *access.Artifact, namespace string, timeout time.Duration, log logr.Logger) (deploy.Releaser, error) {
		return deploy.NewReleaseClient(a, namespace, timeout, log.WithName("helm"))
	}

	// newClusterChecker creates the client-go checker for the test stage.
	newClusterChecker = func(a *access.Artifact) (ClusterChecker, error) {
		return k8s.NewClient(a)
	}

	// loadArtifact reads the kubeconfig artifact written by apply.
	loadArtifact = access.Load

	// checkTools runs prerequisite checks.
	checkTools = prerequisites.Check

	// newLaunchID names one apply run in its EC2 client token.
	newLaunchID = uuid.NewString

	// isInteractive reports whether stdout is a terminal, for apply --watch.
	isInteractive = func() bool {
		return isatty.IsTerminal(os.Stdout.Fd())
	}
)

// session is what a handler prepares before its stage runs.
type session struct {
	cfg      *config.Config
	timeouts *config.Timeouts
	log      logr.Logger
	exec     credentials.ExecContext
	driver   *pipeline.Driver
}

// prepare loads the configuration at path and builds the driver. An
// unknown branch is only fatal for stages that need credentials.
func prepare(stage pipeline.Stage, path string, opts Options, log logr.Logger, interactive bool) (*session, error) {
	spec, err := pipeline.Lookup(stage)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	t := loadTimeouts()

	ec, err := credentials.ExecContextFromEnv(getenv, readFile, opts.Branch)
	if err != nil {
		if !spec.Offline {
			return nil, err
		}
		ec = credentials.ExecContext{Branch: opts.Branch}
	}

	s := &session{cfg: cfg, timeouts: t, log: log.WithValues("environment", cfg.Environment), exec: ec}
	driverOpts := []pipeline.Option{
		pipeline.WithLogger(s.log),
		pipeline.WithEnv(getenv),
		pipeline.WithTimeouts(t),
	}
	if interactive {
		driverOpts = append(driverOpts, pipeline.WithApprover(newApprover()))
	}
	s.driver = pipeline.NewDriver(newBroker(cfg, t, s.log), s.lockerFactory(), driverOpts...)
	return s, nil
}

func (s *session) lockerFactory() pipeline.LockerFactory {
	return func(ctx context.Context, lease *credentials.Lease, rec *metrics.Recorder) (pipeline.StateLocker, error) {
		return newLocker(ctx, s.cfg, s.timeouts, lease, rec, s.log)
	}
}

// run executes stage with body and prints the result line.
func (s *session) run(ctx context.Context, stage pipeline.Stage, opts Options, in pipeline.RunInput) error {
	start := time.Now()
	err := s.execute(ctx, stage, opts, in)
	fmt.Fprintln(stdout, pipeline.RenderResult(stage, time.Since(start), err))
	return err
}

func (s *session) execute(ctx context.Context, stage pipeline.Stage, opts Options, in pipeline.RunInput) error {
	in.Exec = s.exec
	in.Approved = opts.Approve
	in.LockID = s.cfg.LockID()
	in.MetricsDir = s.cfg.OutputDir
	return s.driver.Run(ctx, stage, in)
}

// loadConfig resolves and loads the configuration file.
func loadConfig(path string) (*config.Config, error) {
	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, fmt.Errorf("no config file found: %w (create %s or pass --config)", err, config.DefaultConfigFilename)
	}
	cfg, err := loadConfigFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", resolved, err)
	}
	return cfg, nil
}

// withLogger builds the logger, calls fn and flushes.
func withLogger(fn func(log logr.Logger) error) error {
	log, flush, err := newLogger()
	if err != nil {
		return err
	}
	defer flush()
	return fn(log)
}

// runStage is the common path of the single-config stages.
func runStage(ctx context.Context, stage pipeline.Stage, opts Options, body func(s *session) pipeline.Body) error {
	return withLogger(func(log logr.Logger) error {
		s, err := prepare(stage, opts.ConfigPath, opts, log, true)
		if err != nil {
			return err
		}
		return s.run(ctx, stage, opts, pipeline.RunInput{Body: body(s)})
	})
}

// readRecord returns the state record, or nil when the stage runs before
// any apply.
func (s *session) readRecord(rc *pipeline.RunContext) (StateStore, *statelock.Record, error) {
	store, err := newStateStore(rc, s.cfg, rc.Lease)
	if err != nil {
		return nil, nil, err
	}
	rec, err := store.Read(rc)
	if err != nil {
		return nil, nil, err
	}
	return store, rec, nil
}

var errNoRecord = errors.New("no state record: run apply first")
