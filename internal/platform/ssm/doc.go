// Package ssm is the only channel k3ssm uses to reach an instance. Commands
// run through the SSM agent with the AWS-RunShellScript document, and the
// Kubernetes API is reached through a port-forwarding session driven by the
// external session-manager-plugin. No SSH is involved.
package ssm
