package k8s

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/imamik/k3ssm/internal/metrics"
	"github.com/imamik/k3ssm/internal/provisioning"
)

// ReleaseLabel selects the pods Helm created for a release.
const ReleaseLabel = "app.kubernetes.io/instance"

// ErrChecksFailed is returned when at least one check did not pass.
var ErrChecksFailed = errors.New("cluster checks failed")

// CheckSpec names what the test stage verifies.
type CheckSpec struct {
	Namespace string
	Release   string
	// Deployments to check; empty means every deployment in Namespace.
	Deployments []string
	Interval    time.Duration
	Timeout     time.Duration
}

// condition evaluates one check. The message describes the current state
// and becomes the check message when the check ends.
type condition func(ctx context.Context) (ok bool, message string, err error)

type namedCheck struct {
	name string
	cond condition
}

// Run executes every check in order and returns the report. A failed check
// does not stop later checks. The error is ErrChecksFailed when any check
// failed.
func (c *Client) Run(ctx *provisioning.Context, spec CheckSpec) (*Report, error) {
	checks := []namedCheck{
		{name: "nodes-ready", cond: c.nodesReady},
		{name: "deployments-available", cond: c.deploymentsAvailable(spec.Namespace, spec.Deployments)},
		{name: "release-pods-running", cond: c.podsRunning(spec.Namespace, spec.Release)},
	}

	report := &Report{Passed: true}
	for i, chk := range checks {
		provisioning.LogActionStart(ctx.Observer, ctx.Stage, i, chk.name)
		result := poll(ctx, spec.Interval, spec.Timeout, chk)
		ctx.Metrics.Action(chk.name, resultLabel(result.Passed), result.Duration)

		if result.Passed {
			provisioning.LogActionComplete(ctx.Observer, ctx.Stage, i, chk.name, result.Duration)
		} else {
			report.Passed = false
			provisioning.LogActionFailed(ctx.Observer, ctx.Stage, i, chk.name, errors.New(result.Message))
		}
		report.Checks = append(report.Checks, result)
	}

	if !report.Passed {
		return report, fmt.Errorf("%w: %s", ErrChecksFailed, strings.Join(report.Failed(), ", "))
	}
	return report, nil
}

func poll(ctx context.Context, interval, timeout time.Duration, chk namedCheck) Check {
	start := time.Now()
	var message string
	var lastErr error
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		ok, msg, err := chk.cond(ctx)
		if err != nil {
			lastErr = err
			return false, nil
		}
		message = msg
		return ok, nil
	})

	result := Check{Name: chk.name, Passed: err == nil, Message: message, Duration: time.Since(start)}
	if err != nil && result.Message == "" {
		result.Message = err.Error()
		if lastErr != nil {
			result.Message = lastErr.Error()
		}
	}
	return result
}

func resultLabel(passed bool) string {
	if passed {
		return metrics.ResultSuccess
	}
	return metrics.ResultFailure
}

func (c *Client) nodesReady(ctx context.Context) (bool, string, error) {
	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return false, "", fmt.Errorf("failed to list nodes: %w", err)
	}
	if len(nodes.Items) == 0 {
		return false, "no nodes registered", nil
	}

	var notReady []string
	for i := range nodes.Items {
		if !isNodeReady(&nodes.Items[i]) {
			notReady = append(notReady, nodes.Items[i].Name)
		}
	}
	if len(notReady) > 0 {
		return false, "nodes not ready: " + strings.Join(notReady, ", "), nil
	}
	return true, fmt.Sprintf("%d node(s) ready", len(nodes.Items)), nil
}

func (c *Client) deploymentsAvailable(namespace string, names []string) condition {
	return func(ctx context.Context) (bool, string, error) {
		list, err := c.clientset.AppsV1().Deployments(namespace).List(ctx, metav1.ListOptions{})
		if err != nil {
			return false, "", fmt.Errorf("failed to list deployments: %w", err)
		}

		ready := make(map[string]bool, len(list.Items))
		for i := range list.Items {
			ready[list.Items[i].Name] = isDeploymentReady(&list.Items[i])
		}
		want := names
		if len(want) == 0 {
			for name := range ready {
				want = append(want, name)
			}
			sort.Strings(want)
		}
		if len(want) == 0 {
			return false, "no deployments in namespace " + namespace, nil
		}

		var pending []string
		for _, name := range want {
			ok, found := ready[name]
			switch {
			case !found:
				pending = append(pending, name+" (missing)")
			case !ok:
				pending = append(pending, name)
			}
		}
		if len(pending) > 0 {
			return false, "deployments not available: " + strings.Join(pending, ", "), nil
		}
		return true, fmt.Sprintf("%d deployment(s) available", len(want)), nil
	}
}

func (c *Client) podsRunning(namespace, release string) condition {
	return func(ctx context.Context) (bool, string, error) {
		pods, err := c.clientset.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{
			LabelSelector: ReleaseLabel + "=" + release,
		})
		if err != nil {
			return false, "", fmt.Errorf("failed to list pods: %w", err)
		}
		if len(pods.Items) == 0 {
			return false, "no pods for release " + release, nil
		}

		var pending []string
		for i := range pods.Items {
			pod := &pods.Items[i]
			if !isPodRunning(pod) {
				pending = append(pending, fmt.Sprintf("%s (%s)", pod.Name, pod.Status.Phase))
			}
		}
		if len(pending) > 0 {
			return false, "pods not running: " + strings.Join(pending, ", "), nil
		}
		return true, fmt.Sprintf("%d pod(s) running", len(pods.Items)), nil
	}
}
