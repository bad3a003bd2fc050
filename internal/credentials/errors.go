package credentials

import (
	"errors"
	"fmt"
)

// AuthErrorKind classifies authentication failures.
type AuthErrorKind string

const (
	// TokenExchangeRejected: the workload token was refused, either by the
	// local pre-check or by STS.
	TokenExchangeRejected AuthErrorKind = "TokenExchangeRejected"
	// InvalidStaticCredentials: static keys are missing or were refused.
	InvalidStaticCredentials AuthErrorKind = "InvalidStaticCredentials"
)

// AuthError is always fatal to the run and never retried: it signals a trust
// or configuration mismatch that another attempt cannot fix.
type AuthError struct {
	Kind   AuthErrorKind
	Branch string
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("authentication failed (%s) for branch %q: %s", e.Kind, e.Branch, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an AuthError, returning its kind.
func IsAuthError(err error) (AuthErrorKind, bool) {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
