package credentials

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims holds the workload token claims the broker inspects. GitLab
// ID tokens carry the git ref in "ref".
type tokenClaims struct {
	jwt.RegisteredClaims
	Ref     string `json:"ref,omitempty"`
	RefType string `json:"ref_type,omitempty"`
}

// precheckToken inspects the token without verifying its signature. STS is
// the verifier; this only rejects tokens that are certain to fail or that
// were minted for another branch.
func precheckToken(raw []byte, branch string, now time.Time) error {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := &tokenClaims{}
	if _, _, err := parser.ParseUnverified(string(raw), claims); err != nil {
		return fmt.Errorf("malformed workload token: %w", err)
	}
	if claims.ExpiresAt != nil && !now.Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("workload token expired at %s", claims.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if claims.Ref != "" && claims.Ref != branch {
		return fmt.Errorf("workload token ref %q does not match branch %q", claims.Ref, branch)
	}
	return nil
}
