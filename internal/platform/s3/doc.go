// Package s3 provides the client for the remote state bucket.
//
// It creates and hardens the bucket (versioning, public access block) and
// reads, writes and deletes the state blob. Missing objects are reported as
// ErrObjectNotFound so callers can tell "no state yet" from a failure.
package s3
