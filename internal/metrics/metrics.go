// Package metrics records per-run Prometheus metrics and writes them as a
// node-exporter textfile at the end of every stage.
//
// Each run owns its own registry. A nil *Recorder is valid and records
// nothing, so components can be used without metrics in tests.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Result label values.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultSkipped   = "skipped"
	ResultContended = "contended"
)

// TextfileName is the file written into the output directory.
const TextfileName = "metrics.prom"

// Recorder holds the metric vectors of one run.
type Recorder struct {
	registry *prometheus.Registry

	stageRuns      *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	actionDuration *prometheus.HistogramVec
	lockAttempts   *prometheus.CounterVec
	remoteCommands *prometheus.CounterVec
}

// New creates a recorder with a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "k3ssm",
				Name:      "stage_runs_total",
				Help:      "Total number of pipeline stage runs by result",
			},
			[]string{"stage", "result"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "k3ssm",
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
			},
			[]string{"stage"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "k3ssm",
				Name:      "action_duration_seconds",
				Help:      "Duration of plan actions in seconds by result",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17min
			},
			[]string{"action", "result"},
		),
		lockAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "k3ssm",
				Name:      "lock_attempts_total",
				Help:      "State lock acquisition attempts by result",
			},
			[]string{"result"},
		),
		remoteCommands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "k3ssm",
				Name:      "remote_commands_total",
				Help:      "Remote commands sent through the agent channel by result",
			},
			[]string{"result"},
		),
	}

	r.registry.MustRegister(r.stageRuns, r.stageDuration, r.actionDuration, r.lockAttempts, r.remoteCommands)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// StageRun records one finished stage.
func (r *Recorder) StageRun(stage, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.stageRuns.WithLabelValues(stage, result).Inc()
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Action records one executed plan action.
func (r *Recorder) Action(action, result string, d time.Duration) {
	if r == nil {
		return
	}
	r.actionDuration.WithLabelValues(action, result).Observe(d.Seconds())
}

// LockAttempt records one lock acquisition attempt.
func (r *Recorder) LockAttempt(result string) {
	if r == nil {
		return
	}
	r.lockAttempts.WithLabelValues(result).Inc()
}

// RemoteCommand records one remote command.
func (r *Recorder) RemoteCommand(result string) {
	if r == nil {
		return
	}
	r.remoteCommands.WithLabelValues(result).Inc()
}

// WriteTextfile writes the registry to dir/metrics.prom atomically.
func (r *Recorder) WriteTextfile(dir string) error {
	if r == nil {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	path := filepath.Join(dir, TextfileName)
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// Result maps an error to a result label.
func Result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
