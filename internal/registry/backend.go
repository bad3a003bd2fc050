package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/imamik/k3ssm/internal/config"
	awsplatform "github.com/imamik/k3ssm/internal/platform/aws"
	"github.com/imamik/k3ssm/internal/util/naming"
)

// Artifactory credential variables.
const (
	EnvArtifactoryUser     = "ARTIFACTORY_USER"
	EnvArtifactoryPassword = "ARTIFACTORY_PASSWORD"
)

// ErrNoRegistry is returned by NewBackend for the "none" registry.
var ErrNoRegistry = errors.New("no registry configured")

// Auth is a basic-auth registry login.
type Auth struct {
	Registry string
	Username string
	Password string
}

// String never prints the password.
func (a Auth) String() string {
	return fmt.Sprintf("Auth{registry=%s user=%s}", a.Registry, a.Username)
}

// Backend resolves where and how an image is pushed.
type Backend interface {
	Name() string
	Login(ctx context.Context) (*Auth, error)
	// Repository returns the full repository reference for image, without tag.
	Repository(ctx context.Context, image string) (string, error)
}

// NewBackend selects the backend for cfg. getenv supplies Artifactory
// credentials.
func NewBackend(cfg config.RegistryConfig, cloud awsplatform.RegistryAuthorizer, repoTags map[string]string, getenv func(string) string) (Backend, error) {
	switch cfg.Type {
	case config.RegistryECR:
		if cloud == nil {
			return nil, errors.New("ecr registry needs a cloud client")
		}
		return &ecrBackend{cloud: cloud, prefix: cfg.RepositoryPrefix, tags: repoTags}, nil
	case config.RegistryArtifactory:
		user, pass := getenv(EnvArtifactoryUser), getenv(EnvArtifactoryPassword)
		if user == "" || pass == "" {
			return nil, fmt.Errorf("artifactory registry needs %s and %s", EnvArtifactoryUser, EnvArtifactoryPassword)
		}
		host := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(cfg.URL, "https://"), "http://"), "/")
		return &artifactoryBackend{host: host, prefix: cfg.RepositoryPrefix, user: user, password: pass}, nil
	case config.RegistryNone, "":
		return nil, ErrNoRegistry
	default:
		return nil, fmt.Errorf("unknown registry type %q", cfg.Type)
	}
}

type ecrBackend struct {
	cloud  awsplatform.RegistryAuthorizer
	prefix string
	tags   map[string]string
}

func (b *ecrBackend) Name() string { return config.RegistryECR }

func (b *ecrBackend) Login(ctx context.Context) (*Auth, error) {
	creds, err := b.cloud.AuthorizationToken(ctx)
	if err != nil {
		return nil, err
	}
	return &Auth{Registry: creds.Registry, Username: creds.Username, Password: creds.Password}, nil
}

func (b *ecrBackend) Repository(ctx context.Context, image string) (string, error) {
	return b.cloud.EnsureRepository(ctx, naming.Repository(b.prefix, image), b.tags)
}

type artifactoryBackend struct {
	host     string
	prefix   string
	user     string
	password string
}

func (b *artifactoryBackend) Name() string { return config.RegistryArtifactory }

func (b *artifactoryBackend) Login(context.Context) (*Auth, error) {
	return &Auth{Registry: b.host, Username: b.user, Password: b.password}, nil
}

func (b *artifactoryBackend) Repository(_ context.Context, image string) (string, error) {
	return b.host + "/" + naming.Repository(b.prefix, image), nil
}
