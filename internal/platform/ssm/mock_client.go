package ssm

import (
	"context"
	"time"
)

// MockClient is a mock implementation of Channel.
type MockClient struct {
	RunCommandFunc       func(ctx context.Context, instanceID string, commands []string) (string, error)
	WaitOnlineFunc       func(ctx context.Context, instanceID string, timeout time.Duration) error
	StartPortForwardFunc func(ctx context.Context, instanceID string, remotePort, localPort int) (*Session, error)
}

var _ Channel = (*MockClient)(nil)

// RunCommand mocks a remote command.
func (m *MockClient) RunCommand(ctx context.Context, instanceID string, commands []string) (string, error) {
	if m.RunCommandFunc != nil {
		return m.RunCommandFunc(ctx, instanceID, commands)
	}
	return "", nil
}

// WaitOnline mocks agent registration.
func (m *MockClient) WaitOnline(ctx context.Context, instanceID string, timeout time.Duration) error {
	if m.WaitOnlineFunc != nil {
		return m.WaitOnlineFunc(ctx, instanceID, timeout)
	}
	return nil
}

// StartPortForward mocks a tunnel. The default session owns no process.
func (m *MockClient) StartPortForward(ctx context.Context, instanceID string, remotePort, localPort int) (*Session, error) {
	if m.StartPortForwardFunc != nil {
		return m.StartPortForwardFunc(ctx, instanceID, remotePort, localPort)
	}
	return NewStaticSession(instanceID, localPort), nil
}

// NewStaticSession returns a session with nothing to stop, for callers
// that already have a reachable endpoint.
func NewStaticSession(instanceID string, localPort int) *Session {
	return &Session{ID: "static", InstanceID: instanceID, LocalPort: localPort}
}
