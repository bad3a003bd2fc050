package deploy

import (
	"fmt"
	"os"

	"helm.sh/helm/v3/pkg/chartutil"
	"sigs.k8s.io/yaml"

	"github.com/imamik/k3ssm/internal/registry"
)

// LoadValuesFile reads a Helm values file. An empty path yields no values.
func LoadValuesFile(path string) (map[string]any, error) {
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read values file: %w", err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse values file %s: %w", path, err)
	}
	return values, nil
}

// ImageValues renders images.<name>.repository/tag for every image of the
// build manifest.
func ImageValues(m *registry.Manifest) map[string]any {
	if m == nil || len(m.Images) == 0 {
		return map[string]any{}
	}
	images := make(map[string]any, len(m.Images))
	for _, img := range m.Images {
		images[img.Name] = map[string]any{
			"repository": img.Repository,
			"tag":        img.Tag,
		}
	}
	return map[string]any{"images": images}
}

// MergeValues deep-merges overrides onto base. Overrides win on conflicts;
// neither input is modified.
func MergeValues(base, overrides map[string]any) map[string]any {
	dst := copyTable(overrides)
	return chartutil.CoalesceTables(dst, copyTable(base))
}

func copyTable(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if sub, ok := v.(map[string]any); ok {
			v = copyTable(sub)
		}
		out[k] = v
	}
	return out
}
