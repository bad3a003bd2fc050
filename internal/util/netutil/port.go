// Package netutil provides the local port helpers used by SSM port-forward
// tunnels: picking a free loopback port and waiting for it to accept.
package netutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/imamik/k3ssm/internal/util/retry"
)

// TunnelWaitTimeout bounds how long a freshly started tunnel may take to
// start listening.
const TunnelWaitTimeout = 30 * time.Second

// WaitForPort waits for a TCP port to be open on the target host.
// It checks immediately, then every 250ms until the timeout is reached.
func WaitForPort(ctx context.Context, host string, port int, timeout time.Duration) error {
	address := net.JoinHostPort(host, strconv.Itoa(port))

	err := retry.Poll(ctx, retry.PollConfig{Interval: 250 * time.Millisecond, Timeout: timeout}, func(ctx context.Context) (bool, error) {
		var d net.Dialer
		dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		conn, err := d.DialContext(dialCtx, "tcp", address)
		if err != nil {
			return false, nil
		}
		_ = conn.Close()
		return true, nil
	})
	if errors.Is(err, retry.ErrTimeout) {
		return fmt.Errorf("timeout waiting for %s: %w", address, err)
	}
	return err
}

// FreePort asks the kernel for an unused loopback TCP port.
func FreePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate local port: %w", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}
