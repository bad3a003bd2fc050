package aws

import (
	"errors"

	"github.com/aws/smithy-go"
)

// Sentinel errors, wrapped together with the SDK error.
var (
	ErrInstanceLaunch        = errors.New("failed to launch EC2 instance")
	ErrInstanceLaunchNoID    = errors.New("instance launch returned no instance id")
	ErrInstanceDescribe      = errors.New("failed to describe EC2 instance")
	ErrInstanceTerminate     = errors.New("failed to terminate EC2 instance")
	ErrInstanceTerminateWait = errors.New("failed waiting for EC2 instance termination")
	ErrTrustPolicyMarshal    = errors.New("failed to marshal trust policy")
)

// isAPIErrorCode reports whether err is an AWS API error with one of codes.
func isAPIErrorCode(err error, codes ...string) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		for _, code := range codes {
			if apiErr.ErrorCode() == code {
				return true
			}
		}
	}
	return false
}

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	return isAPIErrorCode(err,
		"InvalidInstanceID.NotFound",
		"NoSuchEntity",
		"RepositoryNotFoundException",
	)
}

// IsAlreadyExists checks if an error indicates the resource exists.
func IsAlreadyExists(err error) bool {
	return isAPIErrorCode(err,
		"EntityAlreadyExists",
		"RepositoryAlreadyExistsException",
	)
}

// IsThrottled checks if an error is a rate limit that may be retried.
func IsThrottled(err error) bool {
	return isAPIErrorCode(err,
		"Throttling",
		"ThrottlingException",
		"RequestLimitExceeded",
	)
}

// isRetryableLaunch reports launch errors that another attempt with the
// same client token can fix.
func isRetryableLaunch(err error) bool {
	return IsThrottled(err) || isAPIErrorCode(err,
		"InsufficientInstanceCapacity",
		"InternalError",
		"Unavailable",
		// A fresh instance profile is not visible to EC2 for a few seconds.
		"InvalidParameterValue",
	)
}
