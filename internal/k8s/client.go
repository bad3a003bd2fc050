// Package k8s runs the post-deploy cluster checks of the test stage.
package k8s

import (
	"fmt"

	"k8s.io/client-go/kubernetes"

	"github.com/imamik/k3ssm/internal/access"
)

// Client wraps the Kubernetes API calls the checks need.
type Client struct {
	clientset kubernetes.Interface
}

// NewClient creates a client from the access artifact.
func NewClient(a *access.Artifact) (*Client, error) {
	config, err := a.RESTConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to build rest config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return NewClientForClientset(clientset), nil
}

// NewClientForClientset wraps an existing clientset, such as a fake.
func NewClientForClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}
