package config

import (
	"os"
	"strconv"
	"time"
)

// Timeouts holds all configurable timeout values.
// These values can be customized via environment variables.
type Timeouts struct {
	Launch         time.Duration // Ceiling for an instance to reach running
	PollInterval   time.Duration // Interval between instance and agent status polls
	AgentOnline    time.Duration // Ceiling for the SSM agent to register
	ReadyAttempts  int           // K3s readiness probe attempts
	ReadyInterval  time.Duration // Delay between readiness probes
	Command        time.Duration // Ceiling for a single remote command
	LockAttempts   int           // State lock acquisition attempts
	LockDelay      time.Duration // Initial delay between lock attempts
	Terminate      time.Duration // Ceiling for an instance to reach terminated
	LeaseDuration  time.Duration // Lifetime requested for credential leases
	ClusterChecks  time.Duration // Ceiling for the test stage checks
	HelmOperations time.Duration // Ceiling for a Helm install or upgrade
}

// LoadTimeouts loads timeout configuration from environment variables.
// If an environment variable is not set or invalid, a default value is used.
//
// Environment Variables:
//   - K3SSM_TIMEOUT_LAUNCH (default: 10m)
//   - K3SSM_POLL_INTERVAL (default: 5s)
//   - K3SSM_TIMEOUT_AGENT_ONLINE (default: 5m)
//   - K3SSM_READY_ATTEMPTS (default: 30)
//   - K3SSM_READY_INTERVAL (default: 10s)
//   - K3SSM_COMMAND_TIMEOUT (default: 10m)
//   - K3SSM_LOCK_ATTEMPTS (default: 10)
//   - K3SSM_LOCK_DELAY (default: 2s)
//   - K3SSM_TERMINATE_TIMEOUT (default: 10m)
//   - K3SSM_LEASE_DURATION (default: 1h)
//   - K3SSM_TIMEOUT_CLUSTER_CHECKS (default: 5m)
//   - K3SSM_TIMEOUT_HELM (default: 10m)
func LoadTimeouts() *Timeouts {
	return &Timeouts{
		Launch:         parseDuration("K3SSM_TIMEOUT_LAUNCH", 10*time.Minute),
		PollInterval:   parseDuration("K3SSM_POLL_INTERVAL", 5*time.Second),
		AgentOnline:    parseDuration("K3SSM_TIMEOUT_AGENT_ONLINE", 5*time.Minute),
		ReadyAttempts:  parseInt("K3SSM_READY_ATTEMPTS", 30),
		ReadyInterval:  parseDuration("K3SSM_READY_INTERVAL", 10*time.Second),
		Command:        parseDuration("K3SSM_COMMAND_TIMEOUT", 10*time.Minute),
		LockAttempts:   parseInt("K3SSM_LOCK_ATTEMPTS", 10),
		LockDelay:      parseDuration("K3SSM_LOCK_DELAY", 2*time.Second),
		Terminate:      parseDuration("K3SSM_TERMINATE_TIMEOUT", 10*time.Minute),
		LeaseDuration:  parseDuration("K3SSM_LEASE_DURATION", time.Hour),
		ClusterChecks:  parseDuration("K3SSM_TIMEOUT_CLUSTER_CHECKS", 5*time.Minute),
		HelmOperations: parseDuration("K3SSM_TIMEOUT_HELM", 10*time.Minute),
	}
}

// parseDuration parses a positive duration from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseDuration(envVar string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}

	return d
}

// parseInt parses a positive integer from an environment variable.
// If the variable is not set or parsing fails, the default value is returned.
func parseInt(envVar string, defaultVal int) int {
	val := os.Getenv(envVar)
	if val == "" {
		return defaultVal
	}

	i, err := strconv.Atoi(val)
	if err != nil || i <= 0 {
		return defaultVal
	}

	return i
}
