// Package config defines the k3ssm configuration model.
//
// A [Config] is read from k3ssm.yaml (found in the working directory or one
// of its parents), overlaid with CI environment variables and validated as a
// whole, so one run reports every problem at once. [Timeouts] come from the
// environment only. [Config.DesiredState] converts the file model into the
// planner's immutable input.
package config
