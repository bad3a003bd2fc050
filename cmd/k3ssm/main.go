// Package main is the entry point for the k3ssm CLI.
//
// k3ssm runs the stages of a CI pipeline that keeps a single-node K3s
// cluster on EC2: it creates or reuses the instance, installs K3s over the
// SSM agent channel, builds and deploys the application and checks it. Every
// stage authenticates with short-lived, branch-scoped credentials.
//
// Commands: init, iam, validate, plan, apply, build, deploy, test, destroy.
//
// For detailed usage information, run:
//
//	k3ssm --help
package main

import (
	"fmt"
	"os"

	"github.com/imamik/k3ssm/cmd/k3ssm/commands"
	"github.com/imamik/k3ssm/internal/pipeline"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(pipeline.ExitCode(err))
	}
}
