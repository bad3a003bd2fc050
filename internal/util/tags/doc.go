// Package tags provides consistent tagging for AWS resources.
//
// This package enforces uniform tagging across every resource k3ssm
// creates, so that an environment's instance, volumes and roles can be
// identified, selected and cleaned up.
//
// Standard tag keys use the k3ssm.io domain prefix for namespacing, except
// for the AWS console's "Name" tag.
package tags
