// Package bootstrap executes an action plan against the cloud and the SSM
// agent channel, and tears an environment down again.
//
// Actions run strictly in plan order. An install or extract action only
// starts once the preceding instance action has resolved to a concrete,
// running instance. Nothing is rolled back on failure: a failed run leaves
// the instance in place for inspection, and the returned Result still
// describes it so the caller can record it.
package bootstrap
