// Package engine launches and settles the ffmpeg process that joins a
// session's inputs into one output file.
//
// Launch never blocks on the conversion. It resolves the output parameters,
// decides whether the inputs can be stream-copied, spawns ffmpeg detached
// with its output captured in the session's log, and records the process
// handle on the session. Wait joins a process this engine launched and hands
// the exit status to Finalize, which moves the session to done or error.
package engine
