// Package session owns the on-disk record of an upload-and-convert session.
//
// Each session lives in its own directory under the sessions root and carries
// a meta.json record, the stored inputs, the concat manifest handed to ffmpeg,
// the ffmpeg log and, once finished, the joined output. Identifiers are opaque
// 32 character hex tokens; every path derived from one is confined to the
// root before it touches the filesystem.
package session
