package deploy

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/platform/ssm"
)

func TestConnect_NoTunnel(t *testing.T) {
	a := testArtifact(t)
	agent := &ssm.MockClient{StartPortForwardFunc: func(context.Context, string, int, int) (*ssm.Session, error) {
		t.Fatal("no tunnel expected")
		return nil, nil
	}}

	got, closeFn, err := Connect(context.Background(), agent, "i-1", a, config.AccessConfig{})
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.NoError(t, closeFn())
}

func TestConnect_Tunnel(t *testing.T) {
	a := testArtifact(t)
	var gotInstance string
	var gotRemote, gotLocal int
	agent := &ssm.MockClient{StartPortForwardFunc: func(_ context.Context, id string, remote, local int) (*ssm.Session, error) {
		gotInstance, gotRemote, gotLocal = id, remote, local
		return ssm.NewStaticSession(id, local), nil
	}}

	got, closeFn, err := Connect(context.Background(), agent, "i-1", a, config.AccessConfig{Tunnel: true, LocalPort: 16443})
	require.NoError(t, err)
	defer closeFn()

	assert.Equal(t, "i-1", gotInstance)
	assert.Equal(t, APIServerPort, gotRemote)
	assert.Equal(t, 16443, gotLocal)
	assert.Equal(t, "127.0.0.1:16443", got.Endpoint.Host)
	assert.Equal(t, "10.0.0.10:6443", a.Endpoint.Host)
}

func TestConnect_PicksFreePort(t *testing.T) {
	var gotLocal int
	agent := &ssm.MockClient{StartPortForwardFunc: func(_ context.Context, id string, _, local int) (*ssm.Session, error) {
		gotLocal = local
		return ssm.NewStaticSession(id, local), nil
	}}

	got, _, err := Connect(context.Background(), agent, "i-1", testArtifact(t), config.AccessConfig{Tunnel: true})
	require.NoError(t, err)
	assert.NotZero(t, gotLocal)
	assert.Equal(t, gotLocal, mustPort(t, got.Endpoint.Port()))
}

func TestConnect_Errors(t *testing.T) {
	_, _, err := Connect(context.Background(), &ssm.MockClient{}, "", testArtifact(t), config.AccessConfig{Tunnel: true})
	assert.ErrorContains(t, err, "no instance")

	agent := &ssm.MockClient{StartPortForwardFunc: func(context.Context, string, int, int) (*ssm.Session, error) {
		return nil, ssm.ErrPluginMissing
	}}
	_, _, err = Connect(context.Background(), agent, "i-1", testArtifact(t), config.AccessConfig{Tunnel: true, LocalPort: 1})
	assert.True(t, errors.Is(err, ssm.ErrPluginMissing))
}

func mustPort(t *testing.T, s string) int {
	t.Helper()
	p, err := strconv.Atoi(s)
	require.NoError(t, err)
	return p
}
