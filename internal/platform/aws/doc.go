// Package aws wraps the AWS APIs k3ssm consumes: EC2 for the instance
// lifecycle, IAM for the branch-scoped CI roles, ECR for registry access and
// STS for the account id.
//
// # Interfaces
//
//   - InstanceManager: launch, describe, find by tags, tag and terminate
//   - RoleManager: OIDC provider and CI role trust documents
//   - RegistryAuthorizer: ECR login and repository creation
//
// RealClient implements all of them against the SDK. MockClient is a
// function-field fake for tests in other packages.
//
// Every SDK client is held behind a narrow interface (ec2API, iamAPI, ...)
// so tests substitute hand-written fakes for the wire.
package aws
