// Package prerequisites checks the external client tools k3ssm shells out to.
// The Docker CLI builds images and the Session Manager plugin carries
// port-forward tunnels; everything else goes through Go SDKs.
package prerequisites

import (
	"fmt"
	"os/exec"
	"strings"
)

// Tool represents a client tool that may be required.
type Tool struct {
	// Name is the binary name to look for in PATH.
	Name string

	// Required indicates if this tool is mandatory.
	Required bool

	// Description explains what the tool is used for.
	Description string

	// InstallURL provides a URL for installation instructions.
	InstallURL string
}

// Docker is needed by the build stage.
func Docker() Tool {
	return Tool{
		Name:        "docker",
		Required:    true,
		Description: "Required for building container images",
		InstallURL:  "https://docs.docker.com/engine/install/",
	}
}

// SessionManagerPlugin is needed when deploy and test reach the cluster
// through an SSM port-forward.
func SessionManagerPlugin() Tool {
	return Tool{
		Name:        "session-manager-plugin",
		Required:    true,
		Description: "Required for SSM port-forwarding to the cluster API",
		InstallURL:  "https://docs.aws.amazon.com/systems-manager/latest/userguide/session-manager-working-with-install-plugin.html",
	}
}

// OptionalTools returns tools that are useful but not required.
func OptionalTools() []Tool {
	return []Tool{
		{
			Name:        "kubectl",
			Required:    false,
			Description: "Useful for inspecting the cluster with the extracted kubeconfig",
			InstallURL:  "https://kubernetes.io/docs/tasks/tools/",
		},
	}
}

// ToolsFor returns the required tools for the enabled features.
func ToolsFor(build, tunnel bool) []Tool {
	var tools []Tool
	if build {
		tools = append(tools, Docker())
	}
	if tunnel {
		tools = append(tools, SessionManagerPlugin())
	}
	return tools
}

// CheckResult contains the result of checking a single tool.
type CheckResult struct {
	Tool    Tool
	Found   bool
	Path    string
	Version string
}

// CheckResults contains the results of checking multiple tools.
type CheckResults struct {
	Results []CheckResult
	Missing []Tool
}

// HasErrors returns true if any required tools are missing.
func (r *CheckResults) HasErrors() bool {
	for _, tool := range r.Missing {
		if tool.Required {
			return true
		}
	}
	return false
}

// Error returns an error if any required tools are missing.
func (r *CheckResults) Error() error {
	var missing []string
	for _, tool := range r.Missing {
		if tool.Required {
			missing = append(missing, fmt.Sprintf("%s (%s)", tool.Name, tool.InstallURL))
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Check verifies that the specified tools are available.
func Check(tools []Tool) *CheckResults {
	results := &CheckResults{}

	for _, tool := range tools {
		result := CheckResult{Tool: tool}

		path, err := lookPath(tool.Name)
		if err == nil {
			result.Found = true
			result.Path = path
			result.Version = getToolVersion(path)
		} else {
			results.Missing = append(results.Missing, tool)
		}

		results.Results = append(results.Results, result)
	}

	return results
}

// getToolVersion attempts to get the version of a tool.
// Returns empty string if version cannot be determined.
func getToolVersion(path string) string {
	versionFlags := []string{"--version", "version"}

	for _, flag := range versionFlags {
		// #nosec G204 - path comes from a LookPath of a fixed tool name
		output, err := exec.Command(path, flag).Output()
		if err == nil {
			line, _, _ := strings.Cut(string(output), "\n")
			return strings.TrimSpace(line)
		}
	}

	return ""
}
