// Package pipeline drives one stage of a CI run: it resolves the credential
// lease, enforces scope and manual gating, emits stage events and metrics,
// serialises state-touching stages behind the state lock and maps the
// outcome to a process exit code.
package pipeline
