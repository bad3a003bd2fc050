package credentials

import (
	"fmt"
	"os"
	"strings"
)

// Environment variables read by ExecContextFromEnv.
const (
	EnvCommitBranch    = "CI_COMMIT_BRANCH"
	EnvCommitRefName   = "CI_COMMIT_REF_NAME"
	EnvIDToken         = "K3SSM_ID_TOKEN"
	EnvWebIdentityFile = "AWS_WEB_IDENTITY_TOKEN_FILE"
	EnvAccessKeyID     = "AWS_ACCESS_KEY_ID"
	EnvSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	EnvSessionToken    = "AWS_SESSION_TOKEN"
)

// ExecContextFromEnv builds the execution context of a CI job. A non-empty
// branch overrides the CI variables.
func ExecContextFromEnv(getenv func(string) string, readFile func(string) ([]byte, error), branch string) (ExecContext, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if readFile == nil {
		readFile = os.ReadFile
	}

	ec := ExecContext{Branch: branch}
	if ec.Branch == "" {
		ec.Branch = getenv(EnvCommitBranch)
	}
	if ec.Branch == "" {
		ec.Branch = getenv(EnvCommitRefName)
	}
	if ec.Branch == "" {
		return ExecContext{}, fmt.Errorf("branch unknown: set %s or pass --branch", EnvCommitBranch)
	}

	if tok := strings.TrimSpace(getenv(EnvIDToken)); tok != "" {
		ec.WorkloadToken = []byte(tok)
	} else if path := getenv(EnvWebIdentityFile); path != "" {
		data, err := readFile(path)
		if err != nil {
			return ExecContext{}, fmt.Errorf("read %s: %w", EnvWebIdentityFile, err)
		}
		ec.WorkloadToken = []byte(strings.TrimSpace(string(data)))
	}

	if id := getenv(EnvAccessKeyID); id != "" {
		ec.Static = &StaticCredentials{
			AccessKeyID:     id,
			SecretAccessKey: getenv(EnvSecretAccessKey),
			SessionToken:    getenv(EnvSessionToken),
		}
	}
	return ec, nil
}
