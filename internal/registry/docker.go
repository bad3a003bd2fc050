package registry

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/imamik/k3ssm/internal/config"
)

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands on the host.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %v: %w", name, args, err)
	}
	return out, nil
}

// DockerBuilder builds an image with the docker CLI and exports it as a
// tarball.
type DockerBuilder struct {
	Binary string
	Run    Runner
}

// NewDockerBuilder uses the docker binary on PATH.
func NewDockerBuilder() *DockerBuilder {
	return &DockerBuilder{Binary: "docker", Run: ExecRunner}
}

// Build builds img as localTag and saves it to dir/<name>.tar. It returns
// the tarball path.
func (d *DockerBuilder) Build(ctx context.Context, img config.ImageConfig, localTag, dir string) (string, error) {
	buildCtx := img.Context
	if buildCtx == "" {
		buildCtx = "."
	}
	args := []string{"build", "--tag", localTag}
	if img.Dockerfile != "" {
		args = append(args, "--file", img.Dockerfile)
	}
	args = append(args, buildCtx)

	if out, err := d.Run(ctx, d.Binary, args...); err != nil {
		return "", fmt.Errorf("failed to build image %s: %w\n%s", img.Name, err, tail(out))
	}

	path := filepath.Join(dir, img.Name+".tar")
	if out, err := d.Run(ctx, d.Binary, "save", "--output", path, localTag); err != nil {
		return "", fmt.Errorf("failed to save image %s: %w\n%s", img.Name, err, tail(out))
	}
	return path, nil
}

// tail keeps the end of a build log, where the error is.
func tail(out []byte) string {
	const keep = 2048
	if len(out) > keep {
		return "..." + string(out[len(out)-keep:])
	}
	return string(out)
}
