package deploy

import (
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/imamik/k3ssm/internal/access"
)

// ArtifactRESTClientGetter implements genericclioptions.RESTClientGetter
// on top of an access artifact, so the kubeconfig never touches disk.
type ArtifactRESTClientGetter struct {
	artifact   *access.Artifact
	namespace  string
	restConfig *rest.Config
}

// NewArtifactRESTClientGetter binds a getter to artifact and namespace.
func NewArtifactRESTClientGetter(artifact *access.Artifact, namespace string) *ArtifactRESTClientGetter {
	return &ArtifactRESTClientGetter{artifact: artifact, namespace: namespace}
}

// ToRESTConfig returns the artifact's REST config, cached after the first call.
func (g *ArtifactRESTClientGetter) ToRESTConfig() (*rest.Config, error) {
	if g.restConfig != nil {
		return g.restConfig, nil
	}
	cfg, err := g.artifact.RESTConfig()
	if err != nil {
		return nil, err
	}
	g.restConfig = cfg
	return cfg, nil
}

// ToDiscoveryClient returns a cached discovery client.
func (g *ArtifactRESTClientGetter) ToDiscoveryClient() (discovery.CachedDiscoveryInterface, error) {
	restConfig, err := g.ToRESTConfig()
	if err != nil {
		return nil, err
	}
	dc, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, err
	}
	return memory.NewMemCacheClient(dc), nil
}

// ToRESTMapper returns a deferred discovery REST mapper.
func (g *ArtifactRESTClientGetter) ToRESTMapper() (meta.RESTMapper, error) {
	dc, err := g.ToDiscoveryClient()
	if err != nil {
		return nil, err
	}
	return restmapper.NewDeferredDiscoveryRESTMapper(dc), nil
}

// ToRawKubeConfigLoader returns a client config whose namespace is the
// release namespace.
func (g *ArtifactRESTClientGetter) ToRawKubeConfigLoader() clientcmd.ClientConfig {
	overrides := &clientcmd.ConfigOverrides{}
	overrides.Context.Namespace = g.namespace
	return clientcmd.NewDefaultClientConfig(*g.artifact.Config(), overrides)
}
