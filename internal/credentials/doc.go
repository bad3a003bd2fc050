// Package credentials resolves the short-lived AWS credential lease for a
// pipeline job.
//
// A job either presents a workload identity token (OIDC federation through
// STS AssumeRoleWithWebIdentity) or long-lived static keys that are checked
// with GetCallerIdentity. In both cases the branch is classified exactly
// once, by [BranchPolicy.Classify], and the resulting binding decides the
// role and the permission scope of the lease.
//
// Leases are never cached or persisted. Their expiry is a hard cutoff:
// callers re-resolve, they never extend.
package credentials
