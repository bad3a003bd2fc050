package ssm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/util/retry"
)

const (
	documentRunShellScript = "AWS-RunShellScript"
	documentPortForward    = "AWS-StartPortForwardingSession"

	// cancelTimeout bounds the CancelCommand call issued after the run
	// context is gone.
	cancelTimeout = 15 * time.Second
)

// Channel is the agent channel to one or more instances.
type Channel interface {
	// RunCommand runs a shell script and returns its stdout.
	RunCommand(ctx context.Context, instanceID string, commands []string) (string, error)
	// WaitOnline blocks until the instance's agent reports Online.
	WaitOnline(ctx context.Context, instanceID string, timeout time.Duration) error
	// StartPortForward forwards localPort to remotePort on the instance.
	StartPortForward(ctx context.Context, instanceID string, remotePort, localPort int) (*Session, error)
}

type ssmAPI interface {
	SendCommand(ctx context.Context, params *ssm.SendCommandInput, optFns ...func(*ssm.Options)) (*ssm.SendCommandOutput, error)
	GetCommandInvocation(ctx context.Context, params *ssm.GetCommandInvocationInput, optFns ...func(*ssm.Options)) (*ssm.GetCommandInvocationOutput, error)
	CancelCommand(ctx context.Context, params *ssm.CancelCommandInput, optFns ...func(*ssm.Options)) (*ssm.CancelCommandOutput, error)
	DescribeInstanceInformation(ctx context.Context, params *ssm.DescribeInstanceInformationInput, optFns ...func(*ssm.Options)) (*ssm.DescribeInstanceInformationOutput, error)
	StartSession(ctx context.Context, params *ssm.StartSessionInput, optFns ...func(*ssm.Options)) (*ssm.StartSessionOutput, error)
	TerminateSession(ctx context.Context, params *ssm.TerminateSessionInput, optFns ...func(*ssm.Options)) (*ssm.TerminateSessionOutput, error)
}

// Client implements Channel on the SSM API.
type Client struct {
	api    ssmAPI
	region string

	pollInterval   time.Duration
	commandTimeout time.Duration
	launch         Launcher

	metrics *metrics.Recorder
	log     logr.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		c.pollInterval = d
	}
}

// WithCommandTimeout bounds a single RunCommand.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.commandTimeout = d
	}
}

// WithLauncher replaces the session plugin launcher.
func WithLauncher(l Launcher) Option {
	return func(c *Client) {
		c.launch = l
	}
}

// WithMetrics records remote command results.
func WithMetrics(r *metrics.Recorder) Option {
	return func(c *Client) {
		c.metrics = r
	}
}

// WithLogger sets the logger.
func WithLogger(log logr.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient creates a Client from an SDK configuration.
func NewClient(cfg aws.Config, opts ...Option) *Client {
	return newClient(ssm.NewFromConfig(cfg), cfg.Region, opts...)
}

func newClient(api ssmAPI, region string, opts ...Option) *Client {
	c := &Client{
		api:            api,
		region:         region,
		pollInterval:   5 * time.Second,
		commandTimeout: 10 * time.Minute,
		launch:         PluginLauncher(DefaultPluginPath),
		log:            logr.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Channel = (*Client)(nil)

// RunCommand sends commands to instanceID and waits for a terminal status.
// If ctx ends first the command is cancelled on the instance.
func (c *Client) RunCommand(ctx context.Context, instanceID string, commands []string) (string, error) {
	out, err := c.runCommand(ctx, instanceID, commands)
	c.metrics.RemoteCommand(metrics.Result(err))
	return out, err
}

func (c *Client) runCommand(ctx context.Context, instanceID string, commands []string) (string, error) {
	sent, err := c.api.SendCommand(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String(documentRunShellScript),
		InstanceIds:  []string{instanceID},
		Parameters: map[string][]string{
			"commands":         commands,
			"executionTimeout": {strconv.Itoa(int(c.commandTimeout.Seconds()))},
		},
		TimeoutSeconds: aws.Int32(int32(c.commandTimeout.Seconds())),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send command to %s: %w", instanceID, err)
	}
	if sent.Command == nil || sent.Command.CommandId == nil {
		return "", fmt.Errorf("SendCommand returned no command id for %s", instanceID)
	}
	commandID := aws.ToString(sent.Command.CommandId)
	log := c.log.WithValues("command_id", commandID, "instance_id", instanceID)
	log.V(1).Info("command sent")

	var stdout string
	err = retry.Poll(ctx, retry.PollConfig{Interval: c.pollInterval, Timeout: c.commandTimeout}, func(ctx context.Context) (bool, error) {
		inv, err := c.api.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
			CommandId:  aws.String(commandID),
			InstanceId: aws.String(instanceID),
		})
		if err != nil {
			if isInvocationPending(err) {
				return false, nil
			}
			return false, err
		}
		switch inv.Status {
		case ssmtypes.CommandInvocationStatusSuccess:
			stdout = aws.ToString(inv.StandardOutputContent)
			return true, nil
		case ssmtypes.CommandInvocationStatusPending,
			ssmtypes.CommandInvocationStatusInProgress,
			ssmtypes.CommandInvocationStatusDelayed:
			return false, nil
		default:
			return false, retry.Fatal(&CommandError{
				CommandID:  commandID,
				InstanceID: instanceID,
				Status:     string(inv.Status),
				ExitCode:   inv.ResponseCode,
				Stderr:     aws.ToString(inv.StandardErrorContent),
			})
		}
	})
	if err == nil {
		log.V(1).Info("command succeeded")
		return stdout, nil
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return "", cmdErr
	}
	c.cancel(commandID, instanceID)
	if ctx.Err() != nil {
		return "", fmt.Errorf("command %s on %s cancelled: %w", commandID, instanceID, ctx.Err())
	}
	return "", fmt.Errorf("command %s on %s: %w", commandID, instanceID, err)
}

// cancel stops a command that is still running on the instance.
func (c *Client) cancel(commandID, instanceID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	_, err := c.api.CancelCommand(ctx, &ssm.CancelCommandInput{
		CommandId:   aws.String(commandID),
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		c.log.Error(err, "failed to cancel command", "command_id", commandID, "instance_id", instanceID)
		return
	}
	c.log.Info("command cancelled", "command_id", commandID, "instance_id", instanceID)
}

// WaitOnline polls the instance inventory until the agent pings Online.
func (c *Client) WaitOnline(ctx context.Context, instanceID string, timeout time.Duration) error {
	var last ssmtypes.PingStatus
	err := retry.Poll(ctx, retry.PollConfig{Interval: c.pollInterval, Timeout: timeout}, func(ctx context.Context) (bool, error) {
		out, err := c.api.DescribeInstanceInformation(ctx, &ssm.DescribeInstanceInformationInput{
			Filters: []ssmtypes.InstanceInformationStringFilter{
				{Key: aws.String("InstanceIds"), Values: []string{instanceID}},
			},
		})
		if err != nil {
			return false, err
		}
		for _, info := range out.InstanceInformationList {
			if aws.ToString(info.InstanceId) == instanceID {
				last = info.PingStatus
				return info.PingStatus == ssmtypes.PingStatusOnline, nil
			}
		}
		return false, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if last == "" {
			last = "unregistered"
		}
		return fmt.Errorf("%w: %s is %s: %w", ErrAgentOffline, instanceID, last, err)
	}
	c.log.V(1).Info("SSM agent online", "instance_id", instanceID)
	return nil
}
