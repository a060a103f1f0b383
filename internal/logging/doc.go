// Package logging assembles structured slog loggers and formatting helpers used
// across audiojoin services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so conversion code can
// automatically tag log lines with session IDs, queue job IDs, and correlation
// IDs. SecurityLog is the separate channel for integrity anomalies. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
