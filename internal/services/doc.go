// Package services defines shared utilities consumed by the conversion
// pipeline, the HTTP surface and the CLI.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, queue job IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     into validation, not-found, conflict, spawn, runtime and integrity
//     buckets so callers can map them onto responses and session states.
//
// Components absorb engine and queue failures at their boundary and turn them
// into session state transitions; only validation and not-found errors are
// expected to reach an API client synchronously.
package services
