// Package api serves the HTTP surface for audio joining: multipart ingest,
// conversion submit, status polling, artifact download, health and metrics.
//
// # Routes
//
//	POST /api/upload    multipart files[] with optional order[]
//	POST /api/convert   {"session_id","format","bitrate"}
//	GET  /api/status    ?id=<session>
//	GET  /api/download  ?id=<session>; the session is removed after streaming
//	GET  /api/queue     queue entries, optionally filtered by ?status=
//	GET  /api/health    dependency and queue database health
//	GET  /metrics       Prometheus exposition
//
// # Errors
//
// Failures are rendered as {"success":false,"error":msg}. The status code
// follows the services error markers: validation 400, not found 404,
// conflict 409, everything else 500. Integrity anomalies are reported as not
// found and never expose internal detail.
//
// # Design Notes
//
// DTOs use snake_case JSON tags so existing browser clients keep working.
// Queue timestamps are RFC3339 with milliseconds.
package api
