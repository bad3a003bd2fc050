// Package provisioning provides the shared run context and the structured
// event API used by every stage.
//
// # Core Types
//
// Context embeds context.Context and carries the Observer, the Timeouts and
// the run's metrics Recorder.
// Observer receives structured Events (stage, action and resource
// lifecycle). LogObserver writes them through a logr.Logger; Tee fans them
// out, e.g. to the progress view.
package provisioning
