// Package retry provides bounded retry and polling primitives for transient failures.
//
// [WithExponentialBackoff] retries an operation with growing delays and is used for
// AWS API calls that may fail transiently, such as state lock contention.
// [Poll] evaluates a condition at a fixed interval with both an attempt bound and a
// wall-clock ceiling, and is used wherever the provisioning workflow waits for a remote
// resource to converge (instance launch, SSM registration, K3s readiness).
//
// Errors wrapped with [Fatal] stop both primitives immediately.
package retry
