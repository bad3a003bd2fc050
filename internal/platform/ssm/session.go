package ssm

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/imamik/k3ssm/internal/util/netutil"
)

// DefaultPluginPath is looked up on PATH.
const DefaultPluginPath = "session-manager-plugin"

const terminateBudget = 15 * time.Second

// Launcher starts the session plugin with args and returns a function that
// stops it.
type Launcher func(args []string) (stop func() error, err error)

// PluginLauncher runs the plugin binary found at path.
func PluginLauncher(path string) Launcher {
	return func(args []string) (func() error, error) {
		bin, err := exec.LookPath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPluginMissing, err)
		}
		cmd := exec.Command(bin, args...)
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("failed to start %s: %w", path, err)
		}
		return func() error {
			if err := cmd.Process.Kill(); err != nil {
				return err
			}
			// Killed processes report a non-nil wait error.
			_ = cmd.Wait()
			return nil
		}, nil
	}
}

// Session is an open port-forwarding session.
type Session struct {
	ID         string
	InstanceID string
	LocalPort  int

	stop      func() error
	terminate func(ctx context.Context) error
	once      sync.Once
	err       error
}

// LocalAddress is the forwarded listener, 127.0.0.1:<port>.
func (s *Session) LocalAddress() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(s.LocalPort))
}

// Close stops the plugin and terminates the session. It is safe to call
// more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.err = s.stop()
		}
		if s.terminate != nil {
			ctx, cancel := context.WithTimeout(context.Background(), terminateBudget)
			defer cancel()
			if err := s.terminate(ctx); err != nil && s.err == nil {
				s.err = err
			}
		}
	})
	return s.err
}

// StartPortForward opens a session forwarding localPort to remotePort on
// instanceID. The session closes when ctx ends or Close is called.
func (c *Client) StartPortForward(ctx context.Context, instanceID string, remotePort, localPort int) (*Session, error) {
	params := map[string][]string{
		"portNumber":      {strconv.Itoa(remotePort)},
		"localPortNumber": {strconv.Itoa(localPort)},
	}
	out, err := c.api.StartSession(ctx, &ssm.StartSessionInput{
		Target:       aws.String(instanceID),
		DocumentName: aws.String(documentPortForward),
		Parameters:   params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start session to %s: %w", instanceID, err)
	}

	sess := &Session{
		ID:         aws.ToString(out.SessionId),
		InstanceID: instanceID,
		LocalPort:  localPort,
	}
	sess.terminate = func(ctx context.Context) error {
		_, err := c.api.TerminateSession(ctx, &ssm.TerminateSessionInput{SessionId: aws.String(sess.ID)})
		if err != nil {
			return fmt.Errorf("failed to terminate session %s: %w", sess.ID, err)
		}
		return nil
	}

	args, err := pluginArgs(out, c.region, instanceID, params)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	stop, err := c.launch(args)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	sess.stop = stop

	if err := netutil.WaitForPort(ctx, "127.0.0.1", localPort, netutil.TunnelWaitTimeout); err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("port forward to %s:%d not ready: %w", instanceID, remotePort, err)
	}
	context.AfterFunc(ctx, func() { _ = sess.Close() })

	c.log.Info("port forward started", "session_id", sess.ID, "instance_id", instanceID, "local", sess.LocalAddress(), "remote_port", remotePort)
	return sess, nil
}

// pluginArgs builds the positional arguments session-manager-plugin expects:
// session response, region, operation, profile, request, endpoint.
func pluginArgs(out *ssm.StartSessionOutput, region, instanceID string, params map[string][]string) ([]string, error) {
	resp, err := json.Marshal(map[string]string{
		"SessionId":  aws.ToString(out.SessionId),
		"StreamUrl":  aws.ToString(out.StreamUrl),
		"TokenValue": aws.ToString(out.TokenValue),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	req, err := json.Marshal(map[string]any{
		"Target":       instanceID,
		"DocumentName": documentPortForward,
		"Parameters":   params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session request: %w", err)
	}
	endpoint := fmt.Sprintf("https://ssm.%s.amazonaws.com", region)
	return []string{string(resp), region, "StartSession", "", string(req), endpoint}, nil
}
