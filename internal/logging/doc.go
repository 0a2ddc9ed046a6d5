// Package logging assembles structured slog loggers and formatting helpers used
// across castdeploy.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and provides a component-tagging helper plus a no-op logger for
// tests and wiring code that cannot fail.
//
// Destination credentials must never reach a logger. Log destination ids,
// modes, remote paths, counts, and error strings only.
package logging
