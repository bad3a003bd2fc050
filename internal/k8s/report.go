package k8s

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ReportFilename is the report artifact name inside the output directory.
const ReportFilename = "test-report.json"

// Check is the outcome of one cluster check.
type Check struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
}

// Report collects every check of a test stage run.
type Report struct {
	Passed bool    `json:"passed"`
	Checks []Check `json:"checks"`
}

// Failed returns the names of the failed checks.
func (r *Report) Failed() []string {
	var names []string
	for _, c := range r.Checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return names
}

// WriteReport writes r to dir and returns the file path.
func WriteReport(dir string, r *Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode test report: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, ReportFilename)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("failed to write test report: %w", err)
	}
	return path, nil
}
