package bootstrap

import (
	"bytes"
	"fmt"
	"strings"
)

// Remote paths on the K3s server.
const (
	KubeconfigPath = "/etc/rancher/k3s/k3s.yaml"
	TokenDir       = "/var/lib/rancher/k3s/k3ssm"
	TokenPath      = TokenDir + "/token"
	UninstallPath  = "/usr/local/bin/k3s-uninstall.sh"

	deployerAccount = "k3ssm-deployer"
	tokenMarker     = "---K3SSM-DEPLOYER-TOKEN---"
	readyOutput     = "ok"
)

// InstallOptions tunes the K3s install.
type InstallOptions struct {
	// Version pins INSTALL_K3S_VERSION. Empty follows the stable channel.
	Version   string
	ExtraArgs []string
}

// installScript installs K3s unless the service is already active.
func installScript(privateAddress string, opts InstallOptions) []string {
	args := []string{"server", "--write-kubeconfig-mode", "600"}
	if privateAddress != "" {
		args = append(args, "--tls-san", privateAddress)
	}
	args = append(args, opts.ExtraArgs...)

	env := fmt.Sprintf("INSTALL_K3S_EXEC=%s", shellQuote(strings.Join(args, " ")))
	if opts.Version != "" {
		env += " INSTALL_K3S_VERSION=" + shellQuote(opts.Version)
	}
	return []string{
		"set -eu",
		"if systemctl is-active --quiet k3s; then echo 'k3s already active'; exit 0; fi",
		"curl -sfL https://get.k3s.io | " + env + " sh -",
	}
}

// readyScript prints "ok" once the API server is ready.
func readyScript() []string {
	return []string{"/usr/local/bin/k3s kubectl get --raw=/readyz"}
}

// deployerScript creates the deployer service account, binds it to
// cluster-admin and writes a token for it once.
func deployerScript() []string {
	k := "/usr/local/bin/k3s kubectl"
	sa := "kube-system:" + deployerAccount
	return []string{
		"set -eu",
		fmt.Sprintf("%s -n kube-system get serviceaccount %s >/dev/null 2>&1 || %s -n kube-system create serviceaccount %s", k, deployerAccount, k, deployerAccount),
		fmt.Sprintf("%s get clusterrolebinding %s >/dev/null 2>&1 || %s create clusterrolebinding %s --clusterrole=cluster-admin --serviceaccount=%s", k, deployerAccount, k, deployerAccount, sa),
		"install -d -m 700 " + TokenDir,
		fmt.Sprintf("if [ ! -s %s ]; then umask 077; %s -n kube-system create token %s --duration=8760h > %s.tmp && mv %s.tmp %s; fi", TokenPath, k, deployerAccount, TokenPath, TokenPath, TokenPath),
	}
}

// extractScript prints the kubeconfig, a marker line and the token. A
// missing kubeconfig yields empty output rather than a failed command.
func extractScript() []string {
	return []string{
		"set -eu",
		"if [ -s " + KubeconfigPath + " ]; then cat " + KubeconfigPath + "; fi",
		"echo",
		"echo '" + tokenMarker + "'",
		"cat " + TokenPath + " 2>/dev/null || true",
	}
}

// uninstallScript runs the K3s uninstaller if it is present.
func uninstallScript() []string {
	return []string{
		fmt.Sprintf("if [ -x %s ]; then %s; else echo 'k3s not installed'; fi", UninstallPath, UninstallPath),
	}
}

// splitExtract separates the kubeconfig from the token in extract output.
func splitExtract(out string) (kubeconfig, token []byte) {
	data := []byte(out)
	i := bytes.Index(data, []byte(tokenMarker))
	if i < 0 {
		return data, nil
	}
	return data[:i], bytes.TrimSpace(data[i+len(tokenMarker):])
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
