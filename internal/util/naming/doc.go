// Package naming provides consistent naming functions for k3ssm resources.
//
// Instance names follow k3s-{environment}; CI roles follow
// {project}-ci-{class}. Every name that ends up in an AWS identifier is
// restricted to the IAM name character set and truncated to the API limit.
package naming
