package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"helm.sh/helm/v3/pkg/action"
	"helm.sh/helm/v3/pkg/chart/loader"
	"helm.sh/helm/v3/pkg/release"
	"helm.sh/helm/v3/pkg/storage/driver"

	"github.com/imamik/k3ssm/internal/access"
)

// Releaser installs a chart directory as a named release.
type Releaser interface {
	InstallOrUpgrade(ctx context.Context, releaseName, chartDir string, values map[string]any) (*release.Release, error)
}

// ReleaseClient runs Helm actions against one namespace.
type ReleaseClient struct {
	actionConfig *action.Configuration
	namespace    string
	timeout      time.Duration
}

var _ Releaser = (*ReleaseClient)(nil)

// NewReleaseClient initialises Helm with the artifact's credentials and
// secret-backed release storage. Helm debug output goes to log at V(1).
func NewReleaseClient(artifact *access.Artifact, namespace string, timeout time.Duration, log logr.Logger) (*ReleaseClient, error) {
	actionConfig := new(action.Configuration)
	getter := NewArtifactRESTClientGetter(artifact, namespace)
	debug := func(format string, v ...interface{}) {
		log.V(1).Info(fmt.Sprintf(format, v...))
	}
	if err := actionConfig.Init(getter, namespace, "secret", debug); err != nil {
		return nil, fmt.Errorf("failed to initialize helm action config: %w", err)
	}
	return newReleaseClient(actionConfig, namespace, timeout), nil
}

func newReleaseClient(actionConfig *action.Configuration, namespace string, timeout time.Duration) *ReleaseClient {
	return &ReleaseClient{actionConfig: actionConfig, namespace: namespace, timeout: timeout}
}

// InstallOrUpgrade installs the chart or upgrades an existing release.
// Both wait for the release resources to become ready.
func (c *ReleaseClient) InstallOrUpgrade(ctx context.Context, releaseName, chartDir string, values map[string]any) (*release.Release, error) {
	chrt, err := loader.Load(chartDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load chart %s: %w", chartDir, err)
	}

	hist := action.NewHistory(c.actionConfig)
	hist.Max = 1
	_, err = hist.Run(releaseName)
	switch {
	case errors.Is(err, driver.ErrReleaseNotFound):
		install := action.NewInstall(c.actionConfig)
		install.ReleaseName = releaseName
		install.Namespace = c.namespace
		install.CreateNamespace = true
		install.Wait = true
		install.Timeout = c.timeout
		return install.RunWithContext(ctx, chrt, values)
	case err != nil:
		return nil, fmt.Errorf("failed to read history of release %s: %w", releaseName, err)
	}

	upgrade := action.NewUpgrade(c.actionConfig)
	upgrade.Namespace = c.namespace
	upgrade.Wait = true
	upgrade.Timeout = c.timeout
	upgrade.ReuseValues = false
	return upgrade.RunWithContext(ctx, releaseName, chrt, values)
}
