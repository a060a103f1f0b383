// Package logs tails ffmpeg and daemon log files for the CLI.
//
// Tail reads with bounded memory, accepts a negative offset to mean "last N
// lines", and can wait for new output. Follow builds on it to stream a
// session's ffmpeg.log until the conversion stops writing.
package logs
