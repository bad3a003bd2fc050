package aws

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	ecrtypes "github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/imamik/k3ssm/internal/util/tags"
)

// RegistryCredentials is a short-lived registry login.
type RegistryCredentials struct {
	Username string
	Password string
	// Registry is the host, without scheme.
	Registry string
}

// String never prints the password.
func (r RegistryCredentials) String() string {
	return fmt.Sprintf("RegistryCredentials{registry=%s user=%s}", r.Registry, r.Username)
}

// AuthorizationToken exchanges the lease for an ECR login.
func (c *RealClient) AuthorizationToken(ctx context.Context) (*RegistryCredentials, error) {
	out, err := c.ecr.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return nil, errors.New("ECR returned no authorization data")
	}
	return decodeAuthorization(out.AuthorizationData[0])
}

func decodeAuthorization(data ecrtypes.AuthorizationData) (*RegistryCredentials, error) {
	raw, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ECR token: %w", err)
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return nil, errors.New("malformed ECR token")
	}
	endpoint := aws.ToString(data.ProxyEndpoint)
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	return &RegistryCredentials{Username: user, Password: pass, Registry: endpoint}, nil
}

// EnsureRepository creates the repository if needed and returns its URI.
func (c *RealClient) EnsureRepository(ctx context.Context, name string, t map[string]string) (string, error) {
	out, err := c.ecr.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err == nil && len(out.Repositories) > 0 {
		return aws.ToString(out.Repositories[0].RepositoryUri), nil
	}
	if err != nil && !IsNotFound(err) {
		return "", fmt.Errorf("failed to describe repository %s: %w", name, err)
	}

	ecrTags := make([]ecrtypes.Tag, 0, len(t))
	for _, k := range tags.Keys(t) {
		ecrTags = append(ecrTags, ecrtypes.Tag{Key: aws.String(k), Value: aws.String(t[k])})
	}
	created, err := c.ecr.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName:     aws.String(name),
		ImageTagMutability: ecrtypes.ImageTagMutabilityMutable,
		ImageScanningConfiguration: &ecrtypes.ImageScanningConfiguration{
			ScanOnPush: true,
		},
		Tags: ecrTags,
	})
	if err != nil {
		if IsAlreadyExists(err) {
			return c.EnsureRepository(ctx, name, nil)
		}
		return "", fmt.Errorf("failed to create repository %s: %w", name, err)
	}
	c.log.Info("created ECR repository", "repository", name)
	return aws.ToString(created.Repository.RepositoryUri), nil
}
