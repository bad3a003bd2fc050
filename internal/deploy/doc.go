// Package deploy installs or upgrades the application Helm chart on the
// cluster, using the access artifact kept in memory and, when configured,
// an SSM port-forward to reach the API server.
package deploy
