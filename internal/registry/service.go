package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/imamik/k3ssm/internal/config"
	"github.com/imamik/k3ssm/internal/provisioning"
)

// ManifestFilename is written to the output directory by the build stage
// and read by the deploy stage.
const ManifestFilename = "images.json"

// Builder produces an image tarball.
type Builder interface {
	Build(ctx context.Context, img config.ImageConfig, localTag, dir string) (string, error)
}

// Image is one pushed image.
type Image struct {
	Name       string `json:"name"`
	Repository string `json:"repository"`
	Tag        string `json:"tag"`
	Digest     string `json:"digest"`
}

// Reference is repository:tag.
func (i Image) Reference() string {
	return i.Repository + ":" + i.Tag
}

// Manifest lists the images of one build.
type Manifest struct {
	Registry string    `json:"registry"`
	Tag      string    `json:"tag"`
	Images   []Image   `json:"images"`
	BuiltAt  time.Time `json:"built_at"`
}

// Lookup returns the image named name.
func (m *Manifest) Lookup(name string) (Image, bool) {
	for _, img := range m.Images {
		if img.Name == name {
			return img, true
		}
	}
	return Image{}, false
}

// Service builds and pushes every configured image.
type Service struct {
	backend Backend
	builder Builder
	pusher  Pusher
	workDir string
}

// NewService wires a backend, builder and pusher. Tarballs go to workDir.
func NewService(backend Backend, builder Builder, pusher Pusher, workDir string) *Service {
	return &Service{backend: backend, builder: builder, pusher: pusher, workDir: workDir}
}

// BuildAndPush builds, tags and pushes images in order and stops at the
// first failure.
func (s *Service) BuildAndPush(ctx *provisioning.Context, images []config.ImageConfig, tag string) (*Manifest, error) {
	if len(images) == 0 {
		return nil, errors.New("no images configured")
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create build directory: %w", err)
	}

	auth, err := s.backend.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s login failed: %w", s.backend.Name(), err)
	}
	ctx.Observer.Printf("logged in to %s", auth)

	m := &Manifest{Registry: auth.Registry, Tag: tag, BuiltAt: time.Now().UTC()}
	for i, img := range images {
		ctx.Observer.Progress(ctx.Stage, i, len(images))

		repo, err := s.backend.Repository(ctx, img.Name)
		if err != nil {
			return m, fmt.Errorf("repository for %s: %w", img.Name, err)
		}
		localTag := "k3ssm.local/" + img.Name + ":" + tag

		provisioning.LogResourceCreating(ctx.Observer, ctx.Stage, "image", img.Name)
		path, err := s.builder.Build(ctx, img, localTag, s.workDir)
		if err != nil {
			return m, err
		}
		digest, err := s.pusher.Push(ctx, path, localTag, repo+":"+tag, auth)
		if err != nil {
			return m, err
		}
		pushed := Image{Name: img.Name, Repository: repo, Tag: tag, Digest: digest}
		m.Images = append(m.Images, pushed)
		provisioning.LogResourceCreated(ctx.Observer, ctx.Stage, "image", img.Name, pushed.Reference()+"@"+digest)
	}
	ctx.Observer.Progress(ctx.Stage, len(images), len(images))
	return m, nil
}

// WriteManifest stores m in dir.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode image manifest: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, ManifestFilename), append(data, '\n'), 0o644)
}

// ReadManifest loads the manifest from dir. A missing file returns nil.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read image manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse image manifest: %w", err)
	}
	return &m, nil
}
