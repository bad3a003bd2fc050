package naming

import (
	"fmt"
	"path"
	"strings"
)

// maxIdentifierLength is the limit shared by IAM role names, STS role
// session names and EC2 client tokens.
const maxIdentifierLength = 64

// Instance returns the default instance name for an environment.
func Instance(environment string) string {
	return fmt.Sprintf("k3s-%s", environment)
}

// SessionName returns the STS role session name for a pipeline on branch.
func SessionName(branch string) string {
	return truncate("k3ssm-" + Sanitize(branch))
}

// CIRole returns the IAM role name for a branch class of a project.
// "group/sub/app" becomes "group-sub-app-ci-main".
func CIRole(projectPath, class string) string {
	suffix := "-ci-" + class
	base := Sanitize(strings.ReplaceAll(projectPath, "/", "-"))
	if len(base)+len(suffix) > maxIdentifierLength {
		base = base[:maxIdentifierLength-len(suffix)]
	}
	return base + suffix
}

// LockID returns the lock table key for a state object, bucket/key.
func LockID(bucket, key string) string {
	return bucket + "/" + key
}

// StateKey returns the default state object key for an environment.
func StateKey(environment string) string {
	return path.Join("k3ssm", environment, "state.json")
}

// ClientToken returns the EC2 idempotency token for one apply run. Retries
// inside the run share launchID and so cannot create a second instance; a
// later run passes a fresh launchID. The environment part is shortened so
// launchID always survives the length limit.
func ClientToken(environment, launchID string) string {
	suffix := "-" + launchID
	base := "k3ssm-" + Sanitize(environment)
	if len(base)+len(suffix) > maxIdentifierLength {
		base = base[:max(0, maxIdentifierLength-len(suffix))]
	}
	return truncate(base + suffix)
}

// Repository returns the registry repository path for an image.
func Repository(prefix, image string) string {
	if prefix == "" {
		return image
	}
	return path.Join(prefix, image)
}

// Sanitize replaces every character outside [A-Za-z0-9+=,.@_-] with '-'.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("+=,.@_-", r):
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func truncate(s string) string {
	if len(s) > maxIdentifierLength {
		return s[:maxIdentifierLength]
	}
	return s
}
