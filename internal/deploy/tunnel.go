package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/imamik/k3ssm/internal/access"
	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/platform/ssm"
	"github.com/imamik/k3ssm/internal/util/netutil"
)

// APIServerPort is the K3s API port on the instance.
const APIServerPort = 6443

// Connect returns the artifact a stage should dial and a func closing
// whatever was opened for it. Without a tunnel the artifact is returned as
// is. With one, an SSM port-forward to the API server is started and the
// returned copy points at the loopback end; the stored artifact is not
// changed.
func Connect(ctx context.Context, agent ssm.Channel, instanceID string, a *access.Artifact, cfg config.AccessConfig) (*access.Artifact, func() error, error) {
	noop := func() error { return nil }
	if !cfg.Tunnel {
		return a, noop, nil
	}
	if instanceID == "" {
		return nil, noop, errors.New("tunnel requested but no instance is recorded in state")
	}

	port := cfg.LocalPort
	if port == 0 {
		var err error
		if port, err = netutil.FreePort(); err != nil {
			return nil, noop, err
		}
	}

	sess, err := agent.StartPortForward(ctx, instanceID, APIServerPort, port)
	if err != nil {
		return nil, noop, fmt.Errorf("failed to open API tunnel to %s: %w", instanceID, err)
	}
	return a.WithEndpoint("127.0.0.1", sess.LocalPort), sess.Close, nil
}
