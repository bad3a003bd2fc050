package registry

import (
	"context"
	"fmt"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/tarball"
)

const userAgent = "k3ssm"

// Pusher uploads an image tarball.
type Pusher interface {
	Push(ctx context.Context, tarballPath, localTag, ref string, auth *Auth) (digest string, err error)
}

// RemotePusher pushes with go-containerregistry.
type RemotePusher struct {
	// Insecure allows plain HTTP registries, for tests.
	Insecure bool
}

// Push reads localTag from the tarball and writes it to ref.
func (p *RemotePusher) Push(ctx context.Context, tarballPath, localTag, ref string, auth *Auth) (string, error) {
	var nameOpts []name.Option
	if p.Insecure {
		nameOpts = append(nameOpts, name.Insecure)
	}

	src, err := name.NewTag(localTag)
	if err != nil {
		return "", fmt.Errorf("invalid local tag %q: %w", localTag, err)
	}
	img, err := tarball.ImageFromPath(tarballPath, &src)
	if err != nil {
		return "", fmt.Errorf("failed to read image tarball %s: %w", tarballPath, err)
	}

	dst, err := name.ParseReference(ref, nameOpts...)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w", ref, err)
	}

	opts := []remote.Option{
		remote.WithContext(ctx),
		remote.WithUserAgent(userAgent),
		remote.WithAuth(authn.Anonymous),
	}
	if auth != nil {
		opts[2] = remote.WithAuth(&authn.Basic{Username: auth.Username, Password: auth.Password})
	}
	if err := remote.Write(dst, img, opts...); err != nil {
		return "", fmt.Errorf("failed to push %s: %w", ref, err)
	}

	digest, err := img.Digest()
	if err != nil {
		return "", fmt.Errorf("failed to compute digest of %s: %w", ref, err)
	}
	return digest.String(), nil
}
