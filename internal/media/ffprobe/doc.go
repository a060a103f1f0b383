// Package ffprobe inspects uploaded audio with ffprobe. Inspector totals input
// durations at ingest, for progress estimation, and reports per-input codecs
// at launch so matching inputs can be stream-copied.
package ffprobe
