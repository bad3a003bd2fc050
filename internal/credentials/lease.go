package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/go-logr/logr"
)

// Scope is the permission level of a lease.
type Scope string

const (
	// ScopeFull allows mutating stages.
	ScopeFull Scope = "Full"
	// ScopeReadOnlyPlan allows validate, plan and test only.
	ScopeReadOnlyPlan Scope = "ReadOnlyPlan"
)

// Allows reports whether s satisfies required.
func (s Scope) Allows(required Scope) bool {
	return s == ScopeFull || required == ScopeReadOnlyPlan
}

// Source tells how a lease was obtained.
type Source string

const (
	SourceOIDC   Source = "oidc"
	SourceStatic Source = "static"
)

// Lease is a credential set owned by exactly one job.
type Lease struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiry          time.Time
	Scope           Scope
	RoleARN         string
	Source          Source
}

// Expired reports whether the lease is unusable at now.
func (l *Lease) Expired(now time.Time) bool {
	return !now.Before(l.Expiry)
}

// Remaining returns the time left at now, never negative.
func (l *Lease) Remaining(now time.Time) time.Duration {
	if d := l.Expiry.Sub(now); d > 0 {
		return d
	}
	return 0
}

// AWSCredentials returns a static provider for SDK clients. The provider
// reports the lease expiry so the SDK never signs with expired keys.
func (l *Lease) AWSCredentials() aws.CredentialsProvider {
	expiry := l.Expiry
	static := awscreds.NewStaticCredentialsProvider(l.AccessKeyID, l.SecretAccessKey, l.SessionToken)
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		creds, err := static.Retrieve(ctx)
		if err != nil {
			return aws.Credentials{}, err
		}
		creds.CanExpire = true
		creds.Expires = expiry
		return creds, nil
	})
}

// String never prints key material.
func (l *Lease) String() string {
	return fmt.Sprintf("Lease{source=%s scope=%s role=%s expiry=%s key=%s}",
		l.Source, l.Scope, l.RoleARN, l.Expiry.UTC().Format(time.RFC3339), redactKey(l.AccessKeyID))
}

// MarshalLog implements logr.Marshaler with the redacted form.
func (l *Lease) MarshalLog() any {
	return map[string]string{
		"source": string(l.Source),
		"scope":  string(l.Scope),
		"role":   l.RoleARN,
		"expiry": l.Expiry.UTC().Format(time.RFC3339),
		"key":    redactKey(l.AccessKeyID),
	}
}

var _ logr.Marshaler = (*Lease)(nil)

// redactKey keeps the 4-character prefix that tells key types apart
// (AKIA long-term, ASIA temporary).
func redactKey(id string) string {
	if len(id) <= 4 {
		return "****"
	}
	return id[:4] + "****"
}
