// Package statelock guards the remote state record of an environment.
//
// A Locker takes an exclusive lease on a DynamoDB item keyed by
// "<bucket>/<key>", the same scheme the Terraform S3 backend uses. A Store
// reads and writes the JSON state record in S3 and refuses to write without
// a held lock for the same key.
package statelock
