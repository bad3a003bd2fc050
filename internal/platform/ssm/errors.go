package ssm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

var (
	// ErrCommandFailed is returned when a command reaches a terminal status
	// other than Success.
	ErrCommandFailed = errors.New("remote command failed")

	// ErrAgentOffline is returned when an instance never registers with SSM.
	ErrAgentOffline = errors.New("SSM agent not online")

	// ErrPluginMissing is returned when session-manager-plugin is not on PATH.
	ErrPluginMissing = errors.New("session-manager-plugin not found")
)

// CommandError carries the outcome of a failed command.
type CommandError struct {
	CommandID  string
	InstanceID string
	Status     string
	ExitCode   int32
	Stderr     string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %s on %s finished with status %s (exit %d)", e.CommandID, e.InstanceID, e.Status, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + lastLine(s)
	}
	return msg
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

func isAPIErrorCode(err error, codes ...string) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.ErrorCode() == code {
			return true
		}
	}
	return false
}

// isInvocationPending reports the error GetCommandInvocation returns until
// the agent has picked the command up.
func isInvocationPending(err error) bool {
	return isAPIErrorCode(err, "InvocationDoesNotExist")
}
