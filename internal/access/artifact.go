// Package access holds the cluster access artifact extracted from a K3s
// server: the API endpoint, its CA and the deployer credentials.
//
// The artifact is a secret. It is only ever written to the job output
// directory with mode 0600 and its String and MarshalLog forms carry no key
// material.
package access

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"
)

// KubeconfigFilename is the artifact file name inside the output directory.
const KubeconfigFilename = "kubeconfig"

const (
	clusterName = "k3ssm"
	userName    = "k3ssm-deployer"
)

// ErrMalformed is returned when a kubeconfig cannot be turned into an
// artifact.
var ErrMalformed = errors.New("malformed cluster access data")

// Artifact is the credential needed to reach the cluster API.
type Artifact struct {
	Endpoint       *url.URL
	CAData         []byte
	AuthToken      []byte
	ClientCertData []byte
	ClientKeyData  []byte
}

// Parse builds an artifact from kubeconfig bytes, as printed by the K3s
// server, plus an optional bearer token.
func Parse(kubeconfig, token []byte) (*Artifact, error) {
	if len(bytes.TrimSpace(kubeconfig)) == 0 {
		return nil, fmt.Errorf("%w: empty kubeconfig", ErrMalformed)
	}
	cfg, err := clientcmd.Load(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	a, err := fromConfig(cfg)
	if err != nil {
		return nil, err
	}
	if tok := bytes.TrimSpace(token); len(tok) > 0 {
		a.AuthToken = tok
	}
	if len(a.AuthToken) == 0 && (len(a.ClientCertData) == 0 || len(a.ClientKeyData) == 0) {
		return nil, fmt.Errorf("%w: no token and no client certificate", ErrMalformed)
	}
	return a, nil
}

// Load reads an artifact previously written by WriteFile.
func Load(path string) (*Artifact, error) {
	cfg, err := clientcmd.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load cluster access from %s: %w", path, err)
	}
	return fromConfig(cfg)
}

func fromConfig(cfg *clientcmdapi.Config) (*Artifact, error) {
	ctxName := cfg.CurrentContext
	if ctxName == "" && len(cfg.Contexts) == 1 {
		for name := range cfg.Contexts {
			ctxName = name
		}
	}
	kctx, ok := cfg.Contexts[ctxName]
	if !ok {
		return nil, fmt.Errorf("%w: no current context", ErrMalformed)
	}
	cluster, ok := cfg.Clusters[kctx.Cluster]
	if !ok || cluster.Server == "" {
		return nil, fmt.Errorf("%w: context %q has no cluster server", ErrMalformed, ctxName)
	}
	endpoint, err := url.Parse(cluster.Server)
	if err != nil || endpoint.Host == "" {
		return nil, fmt.Errorf("%w: invalid server %q", ErrMalformed, cluster.Server)
	}
	if len(cluster.CertificateAuthorityData) == 0 {
		return nil, fmt.Errorf("%w: missing certificate authority data", ErrMalformed)
	}

	a := &Artifact{
		Endpoint: endpoint,
		CAData:   cluster.CertificateAuthorityData,
	}
	if user, ok := cfg.AuthInfos[kctx.AuthInfo]; ok {
		a.ClientCertData = user.ClientCertificateData
		a.ClientKeyData = user.ClientKeyData
		if user.Token != "" {
			a.AuthToken = []byte(user.Token)
		}
	}
	return a, nil
}

// IsLoopback reports whether host names the local machine.
func IsLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// RewriteLoopback points a loopback endpoint at address, keeping the port.
// Non-loopback endpoints are left alone.
func (a *Artifact) RewriteLoopback(address string) {
	if a.Endpoint == nil || !IsLoopback(a.Endpoint.Hostname()) {
		return
	}
	u := *a.Endpoint
	if port := a.Endpoint.Port(); port != "" {
		u.Host = net.JoinHostPort(address, port)
	} else {
		u.Host = address
	}
	a.Endpoint = &u
}

// WithEndpoint returns a copy of the artifact that talks to host:port.
// The copy shares the credential bytes, which are never mutated.
func (a *Artifact) WithEndpoint(host string, port int) *Artifact {
	cp := *a
	u := *a.Endpoint
	u.Host = net.JoinHostPort(host, fmt.Sprint(port))
	cp.Endpoint = &u
	return &cp
}

// Config renders the artifact as a kubeconfig.
func (a *Artifact) Config() *clientcmdapi.Config {
	cfg := clientcmdapi.NewConfig()

	cluster := clientcmdapi.NewCluster()
	cluster.Server = a.Endpoint.String()
	cluster.CertificateAuthorityData = a.CAData
	cfg.Clusters[clusterName] = cluster

	user := clientcmdapi.NewAuthInfo()
	if len(a.AuthToken) > 0 {
		user.Token = string(a.AuthToken)
	} else {
		user.ClientCertificateData = a.ClientCertData
		user.ClientKeyData = a.ClientKeyData
	}
	cfg.AuthInfos[userName] = user

	kctx := clientcmdapi.NewContext()
	kctx.Cluster = clusterName
	kctx.AuthInfo = userName
	cfg.Contexts[clusterName] = kctx
	cfg.CurrentContext = clusterName
	return cfg
}

// Kubeconfig serialises the artifact.
func (a *Artifact) Kubeconfig() ([]byte, error) {
	return clientcmd.Write(*a.Config())
}

// RESTConfig builds a client-go config for the artifact.
func (a *Artifact) RESTConfig() (*rest.Config, error) {
	data, err := a.Kubeconfig()
	if err != nil {
		return nil, err
	}
	return clientcmd.RESTConfigFromKubeConfig(data)
}

// WriteFile writes the kubeconfig to dir with mode 0600 and returns its path.
// An existing file is replaced, never reused with looser permissions.
func (a *Artifact) WriteFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, KubeconfigFilename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to replace %s: %w", path, err)
	}
	if err := clientcmd.WriteToFile(*a.Config(), path); err != nil {
		return "", fmt.Errorf("failed to write kubeconfig: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("failed to restrict kubeconfig permissions: %w", err)
	}
	return path, nil
}

// String never prints credential bytes.
func (a *Artifact) String() string {
	endpoint := "<none>"
	if a.Endpoint != nil {
		endpoint = a.Endpoint.String()
	}
	return fmt.Sprintf("ClusterAccess{endpoint=%s auth=%s}", endpoint, a.authKind())
}

// MarshalLog implements logr.Marshaler.
func (a *Artifact) MarshalLog() any {
	return a.String()
}

var _ logr.Marshaler = (*Artifact)(nil)

func (a *Artifact) authKind() string {
	switch {
	case len(a.AuthToken) > 0:
		return "token(redacted)"
	case len(a.ClientCertData) > 0:
		return "client-cert(redacted)"
	default:
		return "none"
	}
}
