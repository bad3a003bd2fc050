package deploy

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/imamik/k3ssm/internal/access"
)

func testArtifact(t *testing.T) *access.Artifact {
	t.Helper()
	u, err := url.Parse("https://10.0.0.10:6443")
	require.NoError(t, err)
	return &access.Artifact{
		Endpoint:  u,
		CAData:    []byte("-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n"),
		AuthToken: []byte("deployer-token"),
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// writeChart creates a chart whose single template echoes the api image.
func writeChart(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "app")
	writeFile(t, filepath.Join(dir, "Chart.yaml"), "apiVersion: v2\nname: app\nversion: 0.1.0\n")
	writeFile(t, filepath.Join(dir, "values.yaml"), "images:\n  api:\n    repository: nginx\n    tag: latest\n")
	writeFile(t, filepath.Join(dir, "templates", "configmap.yaml"), `apiVersion: v1
kind: ConfigMap
metadata:
  name: {{ .Release.Name }}-images
data:
  api: "{{ .Values.images.api.repository }}:{{ .Values.images.api.tag }}"
`)
	return dir
}
