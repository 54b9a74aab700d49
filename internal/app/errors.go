package app

import "errors"

// Sentinel errors cmd/orchestrator maps to distinct process exit codes
// (spec.md §6): config failures exit 2, an unwritable journal exits 3,
// zero configured connectors exits 4.
var (
	ErrConfig       = errors.New("app: configuration error")
	ErrJournal      = errors.New("app: journal unavailable")
	ErrNoConnectors = errors.New("app: no connectors configured")
)
