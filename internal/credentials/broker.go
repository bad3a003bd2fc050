package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
	"github.com/go-logr/logr"

	"github.com/imamik/k3ssm/internal/util/naming"
)

// WebIdentityAPI is the STS call used on the OIDC path.
type WebIdentityAPI interface {
	AssumeRoleWithWebIdentity(ctx context.Context, params *sts.AssumeRoleWithWebIdentityInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleWithWebIdentityOutput, error)
}

// CallerIdentityAPI is the STS call used to check static credentials.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// StaticCredentials are long-lived keys supplied by the job environment.
type StaticCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

func (s *StaticCredentials) empty() bool {
	return s == nil || s.AccessKeyID == "" || s.SecretAccessKey == ""
}

// ExecContext is what the broker knows about the running job.
type ExecContext struct {
	Branch        string
	WorkloadToken []byte
	Static        *StaticCredentials
}

// Broker resolves credential leases. It holds no per-branch state.
type Broker struct {
	policy   *BranchPolicy
	exchange WebIdentityAPI
	// identity builds a caller-identity client signed with the given keys.
	identity func(StaticCredentials) CallerIdentityAPI
	duration time.Duration
	now      func() time.Time
	log      logr.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) BrokerOption {
	return func(b *Broker) { b.now = now }
}

// WithLogger sets the broker logger.
func WithLogger(log logr.Logger) BrokerOption {
	return func(b *Broker) { b.log = log }
}

// NewBroker creates a Broker. duration is the requested session length on
// the OIDC path and the job ceiling on the static path.
func NewBroker(policy *BranchPolicy, exchange WebIdentityAPI, identity func(StaticCredentials) CallerIdentityAPI, duration time.Duration, opts ...BrokerOption) *Broker {
	b := &Broker{
		policy:   policy,
		exchange: exchange,
		identity: identity,
		duration: duration,
		now:      time.Now,
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewSTSBroker wires the broker to real STS clients. The web identity
// exchange runs with anonymous credentials so ambient keys never leak into
// the request.
func NewSTSBroker(region string, policy *BranchPolicy, duration time.Duration, opts ...BrokerOption) *Broker {
	exchange := sts.New(sts.Options{
		Region:      region,
		Credentials: aws.AnonymousCredentials{},
	})
	identity := func(s StaticCredentials) CallerIdentityAPI {
		lease := Lease{AccessKeyID: s.AccessKeyID, SecretAccessKey: s.SecretAccessKey, SessionToken: s.SessionToken, Expiry: time.Now().Add(duration)}
		return sts.New(sts.Options{Region: region, Credentials: lease.AWSCredentials()})
	}
	return NewBroker(policy, exchange, identity, duration, opts...)
}

// Resolve returns a fresh lease for ec. A workload token takes precedence
// over static credentials.
func (b *Broker) Resolve(ctx context.Context, ec ExecContext) (*Lease, error) {
	if len(ec.WorkloadToken) > 0 {
		return b.resolveOIDC(ctx, ec)
	}
	if ec.Static.empty() {
		return nil, &AuthError{Kind: InvalidStaticCredentials, Branch: ec.Branch, Reason: "no credentials supplied"}
	}
	return b.resolveStatic(ctx, ec)
}

func (b *Broker) resolveOIDC(ctx context.Context, ec ExecContext) (*Lease, error) {
	now := b.now()
	if err := precheckToken(ec.WorkloadToken, ec.Branch, now); err != nil {
		return nil, &AuthError{Kind: TokenExchangeRejected, Branch: ec.Branch, Reason: "token pre-check", Err: err}
	}

	binding, err := b.policy.RoleFor(ec.Branch)
	if err != nil {
		return nil, &AuthError{Kind: TokenExchangeRejected, Branch: ec.Branch, Reason: "role selection", Err: err}
	}

	b.log.V(1).Info("exchanging workload token", "branch", ec.Branch, "role", binding.RoleARN, "scope", binding.Scope)
	out, err := b.exchange.AssumeRoleWithWebIdentity(ctx, &sts.AssumeRoleWithWebIdentityInput{
		RoleArn:          aws.String(binding.RoleARN),
		RoleSessionName:  aws.String(naming.SessionName(ec.Branch)),
		WebIdentityToken: aws.String(string(ec.WorkloadToken)),
		DurationSeconds:  aws.Int32(int32(b.duration / time.Second)),
	})
	if err != nil {
		if code, ok := rejectionCode(err, webIdentityRejections); ok {
			return nil, &AuthError{Kind: TokenExchangeRejected, Branch: ec.Branch, Reason: code, Err: err}
		}
		return nil, fmt.Errorf("assume role %s: %w", binding.RoleARN, err)
	}
	if out.Credentials == nil {
		return nil, &AuthError{Kind: TokenExchangeRejected, Branch: ec.Branch, Reason: "empty credentials in response"}
	}

	expiry := now.Add(b.duration)
	if out.Credentials.Expiration != nil {
		expiry = *out.Credentials.Expiration
	}
	return &Lease{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Expiry:          expiry,
		Scope:           binding.Scope,
		RoleARN:         binding.RoleARN,
		Source:          SourceOIDC,
	}, nil
}

func (b *Broker) resolveStatic(ctx context.Context, ec ExecContext) (*Lease, error) {
	now := b.now()
	out, err := b.identity(*ec.Static).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		if code, ok := rejectionCode(err, staticRejections); ok {
			return nil, &AuthError{Kind: InvalidStaticCredentials, Branch: ec.Branch, Reason: code, Err: err}
		}
		return nil, fmt.Errorf("get caller identity: %w", err)
	}

	binding := b.policy.Binding(ec.Branch)
	b.log.V(1).Info("static credentials accepted", "branch", ec.Branch, "arn", aws.ToString(out.Arn), "scope", binding.Scope)
	return &Lease{
		AccessKeyID:     ec.Static.AccessKeyID,
		SecretAccessKey: ec.Static.SecretAccessKey,
		SessionToken:    ec.Static.SessionToken,
		Expiry:          now.Add(b.duration),
		Scope:           binding.Scope,
		RoleARN:         aws.ToString(out.Arn),
		Source:          SourceStatic,
	}, nil
}

var (
	webIdentityRejections = map[string]bool{
		"InvalidIdentityToken":  true,
		"ExpiredTokenException": true,
		"ExpiredToken":          true,
		"IDPRejectedClaim":      true,
		"AccessDenied":          true,
		"IDPCommunicationError": true,
	}
	staticRejections = map[string]bool{
		"InvalidClientTokenId":        true,
		"SignatureDoesNotMatch":       true,
		"AccessDenied":                true,
		"UnrecognizedClientException": true,
		"ExpiredToken":                true,
	}
)

func rejectionCode(err error, codes map[string]bool) (string, bool) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && codes[apiErr.ErrorCode()] {
		return apiErr.ErrorCode(), true
	}
	return "", false
}
